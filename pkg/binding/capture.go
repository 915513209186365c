package binding

import (
	"github.com/tmplbind/tmplbind-go/pkg/log"
)

func (b *Binder) captureSubscription(key, from, to, reason string) {
	if b.config.ProtocolLogger == nil {
		return
	}
	b.config.ProtocolLogger.Log(log.NewStateEvent(log.StateEntitySubscription, b.owner, key, from, to, reason))
}

func (b *Binder) captureOwner(from, to Phase, reason string) {
	if b.config.ProtocolLogger == nil || from == to {
		return
	}
	b.config.ProtocolLogger.Log(log.NewStateEvent(log.StateEntityOwner, b.owner, "", from.String(), to.String(), reason))
}
