package orderfeed

import (
	"context"
	"sync"
	"time"
)

// InboxAPI is the collaborator contract for the notification REST endpoints.
// read is a tri-state filter: nil selects all notifications.
type InboxAPI interface {
	ListNotifications(ctx context.Context, page int, read *bool) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Inbox mirrors a page of persistent notifications plus the authoritative
// unread count. The count is always refetched from the server after any
// mutating action and never derived by decrementing locally: read state can
// change concurrently from other devices, and a derived counter drifts.
type Inbox struct {
	mu      sync.Mutex
	api     InboxAPI
	backend StateBackend
	logger  Logger

	items  []Notification
	unread int
	page   int
	err    error
}

type InboxOptions struct {
	// Backend optionally persists the mirror across restarts for warm
	// display. The server stays authoritative; the mirror is refreshed on
	// the first fetch.
	Backend StateBackend
	Logger  Logger
}

func NewInbox(api InboxAPI, opts InboxOptions) *Inbox {
	ib := &Inbox{
		api:     api,
		backend: opts.Backend,
		logger:  opts.Logger,
	}
	ib.restore()
	return ib
}

func (ib *Inbox) restore() {
	if ib.backend == nil {
		return
	}
	state, err := ib.backend.Load()
	if err != nil {
		ib.logf("inbox mirror load failed: %v", err)
		return
	}
	if state == nil {
		return
	}
	ib.mu.Lock()
	ib.items = state.Inbox
	ib.unread = state.UnreadCount
	ib.mu.Unlock()
}

func (ib *Inbox) persist() {
	if ib.backend == nil {
		return
	}
	ib.mu.Lock()
	state := &MirrorState{
		Inbox:       append([]Notification(nil), ib.items...),
		UnreadCount: ib.unread,
		SavedAt:     time.Now().UTC(),
	}
	ib.mu.Unlock()
	if err := ib.backend.Save(state); err != nil {
		ib.logf("inbox mirror save failed: %v", err)
	}
}

// Fetch loads one page of notifications. Page one (or lower) replaces the
// mirror; later pages append, for scroll-style pagination.
func (ib *Inbox) Fetch(ctx context.Context, page int, read *bool) error {
	if page < 1 {
		page = 1
	}
	items, err := ib.api.ListNotifications(ctx, page, read)
	if err != nil {
		ib.setErr(err)
		return err
	}
	ib.mu.Lock()
	if page <= 1 {
		ib.items = items
	} else {
		ib.items = append(ib.items, items...)
	}
	ib.page = page
	ib.err = nil
	ib.mu.Unlock()
	ib.persist()
	return nil
}

// RefreshUnreadCount fetches the server-authoritative unread count.
func (ib *Inbox) RefreshUnreadCount(ctx context.Context) error {
	count, err := ib.api.UnreadCount(ctx)
	if err != nil {
		ib.setErr(err)
		return err
	}
	ib.mu.Lock()
	ib.unread = count
	ib.err = nil
	ib.mu.Unlock()
	ib.persist()
	return nil
}

// MarkAsRead optimistically flips the local flag, confirms with the server,
// then refreshes the unread count. On failure the optimistic flip is not
// rolled back; a stale read flag self-corrects on the next fetch.
func (ib *Inbox) MarkAsRead(ctx context.Context, id string) error {
	ib.mu.Lock()
	for i := range ib.items {
		if ib.items[i].ID == id {
			ib.items[i].IsRead = true
			break
		}
	}
	ib.mu.Unlock()

	if err := ib.api.MarkNotificationRead(ctx, id); err != nil {
		ib.setErr(err)
		return err
	}
	return ib.RefreshUnreadCount(ctx)
}

// MarkAllAsRead flips every mirrored notification, resets the count to zero,
// and confirms with the server.
func (ib *Inbox) MarkAllAsRead(ctx context.Context) error {
	ib.mu.Lock()
	for i := range ib.items {
		ib.items[i].IsRead = true
	}
	ib.unread = 0
	ib.mu.Unlock()

	if err := ib.api.MarkAllNotificationsRead(ctx); err != nil {
		ib.setErr(err)
		return err
	}
	return ib.RefreshUnreadCount(ctx)
}

// RefreshInbox is the reconciliation side-effect entry point: refresh the
// unread count plus the first page of unread items, best-effort. Failures are
// recorded on the inbox error surface and go no further; the triggering event
// stays processed.
func (ib *Inbox) RefreshInbox(ctx context.Context) {
	if err := ib.RefreshUnreadCount(ctx); err != nil {
		ib.logf("unread count refresh failed: %v", err)
	}
	readFilter := false
	if err := ib.Fetch(ctx, 1, &readFilter); err != nil {
		ib.logf("unread page refresh failed: %v", err)
	}
}

// Snapshot returns a copy of the mirrored page, the unread count, and the
// last recorded error.
func (ib *Inbox) Snapshot() ([]Notification, int, error) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return append([]Notification(nil), ib.items...), ib.unread, ib.err
}

func (ib *Inbox) setErr(err error) {
	ib.mu.Lock()
	ib.err = err
	ib.mu.Unlock()
}

func (ib *Inbox) logf(format string, args ...any) {
	if ib.logger == nil {
		return
	}
	ib.logger.Printf(format, args...)
}
