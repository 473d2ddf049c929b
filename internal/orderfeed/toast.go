package orderfeed

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastInfo    ToastLevel = "info"
	ToastNeutral ToastLevel = "neutral"
)

type Toast struct {
	ID        string     `json:"id"`
	Level     ToastLevel `json:"level"`
	Message   string     `json:"message"`
	OrderID   string     `json:"orderId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ToastStack is a bounded stack of transient notifications. Presenters own
// their own display timers; the stack only holds what is currently showable
// and drops the oldest entry on overflow.
type ToastStack struct {
	mu     sync.Mutex
	max    int
	toasts []Toast

	// Sink, when set, receives every pushed toast. Used by headless
	// presenters that render immediately instead of polling.
	Sink func(Toast)
}

const defaultToastMax = 5

func NewToastStack(max int) *ToastStack {
	if max <= 0 {
		max = defaultToastMax
	}
	return &ToastStack{max: max}
}

// Toast converts an event into a toast with a type-derived message template
// and pushes it.
func (t *ToastStack) Toast(ev InboundEvent) {
	t.Push(toastFromEvent(ev))
}

func (t *ToastStack) Push(toast Toast) {
	if toast.ID == "" {
		toast.ID = uuid.NewString()
	}
	if toast.CreatedAt.IsZero() {
		toast.CreatedAt = time.Now().UTC()
	}
	t.mu.Lock()
	t.toasts = append(t.toasts, toast)
	if len(t.toasts) > t.max {
		t.toasts = append([]Toast(nil), t.toasts[len(t.toasts)-t.max:]...)
	}
	sink := t.Sink
	t.mu.Unlock()
	if sink != nil {
		sink(toast)
	}
}

// Dismiss removes one toast by id.
func (t *ToastStack) Dismiss(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.toasts {
		if t.toasts[i].ID == id {
			t.toasts = append(t.toasts[:i], t.toasts[i+1:]...)
			return
		}
	}
}

func (t *ToastStack) Snapshot() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast(nil), t.toasts...)
}

func toastFromEvent(ev InboundEvent) Toast {
	toast := Toast{
		OrderID:   ev.OrderID,
		CreatedAt: time.Now().UTC(),
	}
	switch ev.Type {
	case EventNewOrder:
		toast.Level = ToastSuccess
		toast.Message = fmt.Sprintf("New order %s received", ev.OrderID)
	case EventStatusUpdate:
		toast.Level = ToastInfo
		toast.Message = fmt.Sprintf("Order %s is now %s", ev.OrderID, ev.Status)
	default:
		toast.Level = ToastNeutral
		if ev.Message != "" {
			toast.Message = ev.Message
		} else {
			toast.Message = fmt.Sprintf("Order %s updated", ev.OrderID)
		}
	}
	return toast
}
