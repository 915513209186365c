package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tmplbind/tmplbind-go/pkg/log"
)

// csvHeader lists the columns of a CSV export. Detail carries the template
// or value text, the state transition, or the error.
var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"owner", "key", "type", "message_id", "detail",
}

// eventSink writes exported events in one format.
type eventSink interface {
	write(event log.Event) error
	flush() error
}

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	w := io.Writer(os.Stdout)
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return export(reader, format, w)
}

func export(reader *log.Reader, format string, w io.Writer) error {
	sink, err := newSink(format, w)
	if err != nil {
		return err
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := sink.write(event); err != nil {
			return err
		}
	}
	return sink.flush()
}

func newSink(format string, w io.Writer) (eventSink, error) {
	switch format {
	case "jsonl":
		return jsonlSink{enc: json.NewEncoder(w)}, nil
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		return csvSink{w: cw}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

type jsonlSink struct {
	enc *json.Encoder
}

func (s jsonlSink) write(event log.Event) error {
	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

func (jsonlSink) flush() error { return nil }

type csvSink struct {
	w *csv.Writer
}

func (s csvSink) write(event log.Event) error {
	kind, msgID, detail := describe(event)
	row := []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.Owner,
		event.Key,
		kind,
		msgID,
		detail,
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

func (s csvSink) flush() error {
	s.w.Flush()
	return s.w.Error()
}

// describe returns the type, message id and detail columns of event.
func describe(event log.Event) (kind, msgID, detail string) {
	switch {
	case event.Frame != nil:
		return "frame", "", strconv.Itoa(event.Frame.Size)
	case event.Message != nil:
		m := event.Message
		detail = m.Text
		if m.ErrorCode != "" {
			detail = m.ErrorCode.String()
		}
		return m.Type.String(), strconv.FormatUint(uint64(m.MessageID), 10), detail
	case event.StateChange != nil:
		sc := event.StateChange
		detail = sc.NewState
		if sc.OldState != "" {
			detail = sc.OldState + " -> " + sc.NewState
		}
		return "state", "", detail
	case event.Error != nil:
		return "error", "", event.Error.Message
	default:
		return "unknown", "", ""
	}
}
