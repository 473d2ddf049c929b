package orderfeed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type ViewKind int

const (
	ViewList ViewKind = iota
	ViewDetail
)

// View is the contract a consuming view exposes to the reconciler. The
// reconciler owns the decision procedure; views only answer questions about
// their local state and execute the mutation or refetch it picks. This keeps
// the dedup and tie-break rules identical across every consumer instead of
// re-implemented per view.
type View interface {
	Kind() ViewKind

	// Relevant applies the view's relevance filter. Ownership fields must
	// match the view's identity; events that fail the filter are never
	// considered and never enter the ledger.
	Relevant(ev InboundEvent) bool

	// HasOrder reports whether the order is present in local state.
	HasOrder(orderID string) bool

	// PatchStatus overwrites the status of a locally-present order.
	PatchStatus(orderID, status string)

	// MatchesFilter reports whether an order in the given status would be
	// shown under the view's current filter.
	MatchesFilter(status string) bool

	// RefreshAll refetches the view's full data set.
	RefreshAll(ctx context.Context) error

	// RefreshOrder refetches a single order.
	RefreshOrder(ctx context.Context, orderID string) error

	// SetErr surfaces a failed reconciliation refetch through the same error
	// channel the view already exposes.
	SetErr(err error)
}

// Effects receives the side effects every relevant, non-duplicate event
// triggers beyond the view mutation itself: a transient toast and a refresh
// of the inbox unread state. Both are best-effort.
type Effects interface {
	Toast(ev InboundEvent)
	RefreshInbox(ctx context.Context)
}

type ReconcilerOptions struct {
	LedgerHighWater int
	LedgerFloor     int
	Effects         Effects
	Logger          Logger
}

// Reconciler runs the per-event decision procedure for one mounted view.
// Deduplication, the latest-timestamp tie-break, and the patch-vs-refetch
// policy live here; the view supplies relevance and state access.
type Reconciler struct {
	mu      sync.Mutex
	view    View
	ledger  *Ledger
	effects Effects
	logger  Logger

	// lastStatusAt tracks the createdAt of the freshest status_update applied
	// per order, so a stale update delivered late is never applied over a
	// fresher one regardless of delivery order. Bounded by the same
	// high-water/floor policy as the ledger.
	lastStatusAt map[string]time.Time
}

func NewReconciler(view View, opts ReconcilerOptions) *Reconciler {
	return &Reconciler{
		view:         view,
		ledger:       NewLedger(opts.LedgerHighWater, opts.LedgerFloor),
		effects:      opts.Effects,
		logger:       opts.Logger,
		lastStatusAt: map[string]time.Time{},
	}
}

// Apply reconciles a single event. Applying the same event id twice is an
// idempotent no-op: the same event may arrive once via the stream and once
// via an overlapping manual refresh.
func (r *Reconciler) Apply(ctx context.Context, ev InboundEvent) {
	r.ApplyBatch(ctx, []InboundEvent{ev})
}

// ApplyBatch reconciles a delivery batch in order. When the batch carries
// several status_update events for one order, only the freshest by createdAt
// is applied; the stale ones are still marked processed.
func (r *Reconciler) ApplyBatch(ctx context.Context, events []InboundEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	freshest := map[string]time.Time{}
	for _, ev := range events {
		if ev.Type != EventStatusUpdate || ev.OrderID == "" {
			continue
		}
		if at, ok := freshest[ev.OrderID]; !ok || ev.CreatedAt.After(at) {
			freshest[ev.OrderID] = ev.CreatedAt
		}
	}

	for _, ev := range events {
		if !r.view.Relevant(ev) {
			continue
		}
		key := ev.LedgerKey()
		if !r.ledger.Add(key) {
			continue
		}
		stale := false
		if ev.Type == EventStatusUpdate {
			if at, ok := freshest[ev.OrderID]; ok && ev.CreatedAt.Before(at) {
				stale = true
			}
			if at, ok := r.lastStatusAt[ev.OrderID]; ok && !ev.CreatedAt.After(at) {
				stale = true
			}
		}
		if !stale {
			r.decide(ctx, ev)
		}
		if r.effects != nil {
			r.effects.Toast(ev)
			r.effects.RefreshInbox(ctx)
		}
	}
}

// decide runs the per-type decision policy for one relevant, non-duplicate,
// non-stale event.
func (r *Reconciler) decide(ctx context.Context, ev InboundEvent) {
	switch ev.Type {
	case EventNewOrder:
		// A brand-new order cannot be synthesized client-side; its full
		// entity shape is unknown. List views refetch, detail views cannot
		// display an order they are not already showing.
		if r.view.Kind() != ViewList {
			return
		}
		r.refreshAll(ctx)

	case EventStatusUpdate:
		if ev.OrderID == "" || ev.Status == "" {
			return
		}
		r.recordStatusAt(ev.OrderID, ev.CreatedAt)
		if r.view.HasOrder(ev.OrderID) {
			r.view.PatchStatus(ev.OrderID, ev.Status)
			return
		}
		// Absent locally: refetch only if the new status would now match the
		// view's filter; otherwise the order remains correctly excluded.
		if !r.view.MatchesFilter(ev.Status) {
			return
		}
		if r.view.Kind() == ViewDetail {
			r.refreshOrder(ctx, ev.OrderID)
			return
		}
		r.refreshAll(ctx)

	case EventOrderUpdate:
		// Shape-unknown change: never a direct patch.
		if r.view.Kind() == ViewDetail {
			r.refreshOrder(ctx, ev.OrderID)
			return
		}
		r.refreshAll(ctx)

	default:
		r.logf("ignoring event type %q for order %s", ev.Type, ev.OrderID)
	}
}

// recordStatusAt stores the freshest applied status timestamp for an order.
// Past the ledger's high-water mark it keeps only the entries with the most
// recent timestamps, down to the floor: losing a tie-break record for a
// long-quiet order carries the same reprocessing risk as a ledger eviction.
func (r *Reconciler) recordStatusAt(orderID string, at time.Time) {
	r.lastStatusAt[orderID] = at
	if len(r.lastStatusAt) <= r.ledger.highWater {
		return
	}
	type statusEntry struct {
		id string
		at time.Time
	}
	entries := make([]statusEntry, 0, len(r.lastStatusAt))
	for id, seen := range r.lastStatusAt {
		entries = append(entries, statusEntry{id: id, at: seen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].at.After(entries[j].at)
	})
	for _, entry := range entries[r.ledger.floor:] {
		delete(r.lastStatusAt, entry.id)
	}
}

// refreshAll and refreshOrder surface failures through the view's error
// channel and nothing else: the event stays in the ledger, so a failed
// side-effect fetch never turns into a refetch loop. Manual refresh is the
// recovery path.
func (r *Reconciler) refreshAll(ctx context.Context) {
	if err := r.view.RefreshAll(ctx); err != nil && !errors.Is(err, ErrViewClosed) {
		r.logf("list refresh failed: %v", err)
		r.view.SetErr(err)
	}
}

func (r *Reconciler) refreshOrder(ctx context.Context, orderID string) {
	if err := r.view.RefreshOrder(ctx, orderID); err != nil && !errors.Is(err, ErrViewClosed) {
		r.logf("refetch of order %s failed: %v", orderID, err)
		r.view.SetErr(err)
	}
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

// Dispatcher fans one decoded event out to every mounted reconciler. Views
// are independent projections: each applies its own filter and may reach a
// different outcome for the same event.
type Dispatcher struct {
	mu          sync.Mutex
	reconcilers []*Reconciler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Mount(r *Reconciler) {
	if r == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconcilers = append(d.reconcilers, r)
}

// Reset unmounts every reconciler, e.g. on identity change. Fresh views get
// fresh ledgers.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconcilers = nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev InboundEvent) {
	d.mu.Lock()
	targets := append([]*Reconciler(nil), d.reconcilers...)
	d.mu.Unlock()
	for _, r := range targets {
		r.Apply(ctx, ev)
	}
}
