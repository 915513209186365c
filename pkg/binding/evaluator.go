package binding

import (
	"context"

	"github.com/tmplbind/tmplbind-go/pkg/channel"
)

// Evaluator opens template subscriptions. *channel.Client implements it.
type Evaluator interface {
	Subscribe(ctx context.Context, req channel.SubscribeRequest, listener channel.Listener) (channel.CancelFunc, error)
}

var _ Evaluator = (*channel.Client)(nil)
