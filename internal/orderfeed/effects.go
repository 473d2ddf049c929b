package orderfeed

import "context"

// EngineEffects is the standard Effects wiring: toasts go to a stack, inbox
// refreshes go to the inbox mirror. Either half may be nil.
type EngineEffects struct {
	Toasts *ToastStack
	Inbox  *Inbox
}

func (e *EngineEffects) Toast(ev InboundEvent) {
	if e == nil || e.Toasts == nil {
		return
	}
	e.Toasts.Toast(ev)
}

func (e *EngineEffects) RefreshInbox(ctx context.Context) {
	if e == nil || e.Inbox == nil {
		return
	}
	e.Inbox.RefreshInbox(ctx)
}
