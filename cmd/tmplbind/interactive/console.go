// Package interactive provides the interactive command-line interface
// for tmplbind.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/tmplbind/tmplbind-go/pkg/binding"
	"github.com/tmplbind/tmplbind-go/pkg/config"
	"github.com/tmplbind/tmplbind-go/pkg/template"
)

// commandTimeout bounds each command that talks to the service.
const commandTimeout = 30 * time.Second

// Pinger checks the evaluation service.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Console handles interactive mode for tmplbind.
type Console struct {
	mgr    *binding.Manager
	pinger Pinger
	config *config.Config
	out    io.Writer
	rl     *readline.Instance
}

// New creates a new interactive console.
func New(mgr *binding.Manager, pinger Pinger, cfg *config.Config) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tmplbind> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(mgr, pinger, cfg, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(mgr *binding.Manager, pinger Pinger, cfg *config.Config, out io.Writer) *Console {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Console{
		mgr:    mgr,
		pinger: pinger,
		config: cfg,
		out:    out,
	}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the user asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "owners", "ls":
		c.cmdOwners()

	case "attach", "a":
		c.cmdAttach(ctx, args)

	case "detach", "d":
		c.cmdDetach(ctx, args)

	case "retry":
		c.cmdRetry(ctx, args)

	case "read", "r":
		c.cmdRead(args)

	case "set":
		c.cmdSet(ctx, line, args)

	case "var":
		c.cmdVar(ctx, args)

	case "ping":
		c.cmdPing(ctx)

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
tmplbind Commands:
  Owners:
    owners                          - List owners and their phase
    attach <owner>                  - Attach an owner (configured fields or last declared)
    detach <owner>                  - Release all subscriptions of an owner
    retry <owner>                   - Resubscribe keys that fell back

  Fields:
    read <owner> [key]              - Show current values
    set <owner> <key> <value...>    - Declare or change a field (template or static)
    var <owner> <key> <name> <val>  - Set a template variable

  General:
    ping                            - Check the evaluation service
    help                            - Show this help
    quit                            - Exit`)
}

func (c *Console) cmdOwners() {
	ids := c.mgr.Owners()
	seen := make(map[string]bool, len(ids))
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tPHASE\tFIELDS\tSUBSCRIBED")
	for _, id := range ids {
		seen[id] = true
		b := c.mgr.Binder(id)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", id, b.Phase(), len(b.Fields()), len(b.Keys()))
	}
	for _, o := range c.config.Owners {
		if !seen[o.ID] {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", o.ID, binding.PhaseDetached, len(o.Fields), 0)
		}
	}
	tw.Flush()
}

// fields returns the fields to use for owner: the last declared ones, or
// the configured ones.
func (c *Console) fields(owner string) ([]binding.Field, bool) {
	if b := c.mgr.Binder(owner); b != nil {
		return b.Fields(), true
	}
	if o, ok := c.config.Owner(owner); ok {
		return o.BindingFields(), true
	}
	return nil, false
}

func (c *Console) cmdAttach(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: attach <owner>")
		return
	}
	fields, ok := c.fields(args[0])
	if !ok {
		fmt.Fprintf(c.out, "Unknown owner: %s\n", args[0])
		return
	}
	if _, err := c.mgr.Attach(ctx, args[0], fields); err != nil {
		fmt.Fprintf(c.out, "Attach failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdDetach(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: detach <owner>")
		return
	}
	if err := c.mgr.Detach(ctx, args[0]); err != nil {
		fmt.Fprintf(c.out, "Detach failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdRetry(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: retry <owner>")
		return
	}
	if err := c.mgr.Retry(ctx, args[0]); err != nil {
		if errors.Is(err, binding.ErrUnknownOwner) {
			fmt.Fprintf(c.out, "Unknown owner: %s\n", args[0])
			return
		}
		fmt.Fprintf(c.out, "Retry failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdRead(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: read <owner> [key]")
		return
	}
	b := c.mgr.Binder(args[0])
	if b == nil {
		fmt.Fprintf(c.out, "Unknown owner: %s\n", args[0])
		return
	}

	if len(args) > 1 {
		fmt.Fprintf(c.out, "%s = %q (%s)\n", args[1], b.Value(args[1]), fieldStatus(b, args[1]))
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tVALUE")
	for _, f := range b.Fields() {
		fmt.Fprintf(tw, "%s\t%s\t%q\n", f.Key, fieldStatus(b, f.Key), b.Value(f.Key))
	}
	tw.Flush()
}

// fieldStatus describes where the value of key comes from.
func fieldStatus(b *binding.Binder, key string) string {
	if state, ok := b.State(key); ok {
		return state.String()
	}
	for _, f := range b.Fields() {
		if f.Key != key {
			continue
		}
		if !template.IsTemplate(f.Raw) {
			return "static"
		}
		if _, ok := b.Read(key); ok {
			return "fallback"
		}
		return "unbound"
	}
	return "undeclared"
}

func (c *Console) cmdSet(ctx context.Context, line string, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "Usage: set <owner> <key> <value...>")
		fmt.Fprintln(c.out, "  Example: set card-1 title {{ states('sun.sun') }}")
		return
	}
	owner, key := args[0], args[1]
	value := restOfLine(line, 3)

	fields, _ := c.fields(owner)
	found := false
	for i := range fields {
		if fields[i].Key == key {
			fields[i].Raw = value
			found = true
		}
	}
	if !found {
		fields = append(fields, binding.Field{Key: key, Raw: value})
	}

	if err := c.mgr.Reconfigure(ctx, owner, fields); err != nil {
		fmt.Fprintf(c.out, "Set failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdVar(ctx context.Context, args []string) {
	if len(args) < 4 {
		fmt.Fprintln(c.out, "Usage: var <owner> <key> <name> <value>")
		fmt.Fprintln(c.out, "  Example: var card-1 title entity sun.sun")
		return
	}
	owner, key, name := args[0], args[1], args[2]
	value := parseValue(strings.Join(args[3:], " "))

	fields, _ := c.fields(owner)
	found := false
	for i := range fields {
		if fields[i].Key != key {
			continue
		}
		vars := make(map[string]any, len(fields[i].Variables)+1)
		for k, v := range fields[i].Variables {
			vars[k] = v
		}
		vars[name] = value
		fields[i].Variables = vars
		found = true
	}
	if !found {
		fmt.Fprintf(c.out, "Unknown field: %s/%s\n", owner, key)
		return
	}

	if err := c.mgr.Reconfigure(ctx, owner, fields); err != nil {
		fmt.Fprintf(c.out, "Var failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdPing(ctx context.Context) {
	if c.pinger == nil {
		fmt.Fprintln(c.out, "Not connected")
		return
	}
	rtt, err := c.pinger.Ping(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Ping failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Pong in %s\n", rtt.Round(time.Microsecond))
}

// restOfLine returns line with its first n fields removed, keeping the
// spacing of the remainder.
func restOfLine(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexFunc(rest, func(r rune) bool { return r == ' ' || r == '\t' })
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[idx:], " \t")
	}
	return rest
}

// parseValue parses a variable value (try int, then float, then bool,
// then string).
func parseValue(s string) any {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return strings.Trim(s, "\"'")
}
