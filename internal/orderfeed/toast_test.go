package orderfeed

import (
	"testing"
	"time"
)

func TestToastStackDropsOldestPastLimit(t *testing.T) {
	stack := NewToastStack(3)
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		stack.Push(Toast{ID: id, Message: id})
	}
	toasts := stack.Snapshot()
	if len(toasts) != 3 {
		t.Fatalf("expected 3 toasts, got %d", len(toasts))
	}
	if toasts[0].ID != "t2" || toasts[2].ID != "t4" {
		t.Fatalf("expected oldest toast dropped, got %+v", toasts)
	}
}

func TestToastStackDismiss(t *testing.T) {
	stack := NewToastStack(5)
	stack.Push(Toast{ID: "t1"})
	stack.Push(Toast{ID: "t2"})
	stack.Dismiss("t1")
	toasts := stack.Snapshot()
	if len(toasts) != 1 || toasts[0].ID != "t2" {
		t.Fatalf("expected only t2 after dismiss, got %+v", toasts)
	}
}

func TestToastStackSinkReceivesEveryPush(t *testing.T) {
	stack := NewToastStack(2)
	var seen []string
	stack.Sink = func(toast Toast) { seen = append(seen, toast.ID) }
	for _, id := range []string{"t1", "t2", "t3"} {
		stack.Push(Toast{ID: id})
	}
	if len(seen) != 3 {
		t.Fatalf("expected the sink to see all pushes, got %v", seen)
	}
}

func TestToastMessagesByEventType(t *testing.T) {
	cases := []struct {
		ev      InboundEvent
		level   ToastLevel
		message string
	}{
		{
			ev:      InboundEvent{Type: EventNewOrder, OrderID: "900"},
			level:   ToastSuccess,
			message: "New order 900 received",
		},
		{
			ev:      InboundEvent{Type: EventStatusUpdate, OrderID: "900", Status: "ready"},
			level:   ToastInfo,
			message: "Order 900 is now ready",
		},
		{
			ev:      InboundEvent{Type: EventOrderUpdate, OrderID: "900", Message: "Driver reassigned"},
			level:   ToastNeutral,
			message: "Driver reassigned",
		},
		{
			ev:      InboundEvent{Type: EventOrderUpdate, OrderID: "900"},
			level:   ToastNeutral,
			message: "Order 900 updated",
		},
	}
	for _, tc := range cases {
		toast := toastFromEvent(tc.ev)
		if toast.Level != tc.level {
			t.Fatalf("%s: level = %q, want %q", tc.ev.Type, toast.Level, tc.level)
		}
		if toast.Message != tc.message {
			t.Fatalf("%s: message = %q, want %q", tc.ev.Type, toast.Message, tc.message)
		}
		if toast.OrderID != tc.ev.OrderID {
			t.Fatalf("%s: expected order id carried over", tc.ev.Type)
		}
	}
}

func TestToastAssignsIDAndTimestamp(t *testing.T) {
	stack := NewToastStack(5)
	stack.Toast(InboundEvent{Type: EventNewOrder, OrderID: "900", CreatedAt: time.Now()})
	toasts := stack.Snapshot()
	if len(toasts) != 1 {
		t.Fatalf("expected one toast, got %d", len(toasts))
	}
	if toasts[0].ID == "" || toasts[0].CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", toasts[0])
	}
}
