package channel

import (
	"errors"
	"fmt"

	"github.com/tmplbind/tmplbind-go/pkg/wire"
)

// Client errors.
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrUnexpectedReply  = errors.New("unexpected reply")
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// Error is an error reported by the evaluation service, or synthesized
// locally for a dropped connection.
type Error struct {
	Code    wire.Code
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Code sentinels for errors.Is.
var (
	ErrNotFound       = &Error{Code: wire.CodeNotFound}
	ErrTemplate       = &Error{Code: wire.CodeTemplateError}
	ErrConnectionLost = &Error{Code: wire.CodeConnectionLost}
)

func errorFromPayload(p *wire.ErrorPayload) *Error {
	code := p.Code
	if code == "" {
		code = wire.CodeUnknownError
	}
	return &Error{Code: code, Message: p.Message}
}

// CodeOf returns the protocol code carried by err, or "" if none.
func CodeOf(err error) wire.Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBenign reports whether err is expected when releasing a subscription
// the service or the channel already discarded: codes not_found and
// template_error, or a closed client.
func IsBenign(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrClientClosed) {
		return true
	}
	return CodeOf(err).IsBenign()
}
