package binding

import (
	"log/slog"

	"github.com/tmplbind/tmplbind-go/pkg/log"
)

// Config configures a Manager and its Binders.
type Config struct {
	// Strict subscribes templates in strict mode, so rendering errors
	// reject the subscription and the raw value is shown.
	Strict bool

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures subscription and owner state changes.
	// Nil disables capture.
	ProtocolLogger log.Logger

	// Metrics records binding metrics. Nil disables them.
	Metrics *Metrics

	// OnChange is called after every store update, outside any lock.
	// It may be called concurrently for different keys.
	OnChange func(Change)
}
