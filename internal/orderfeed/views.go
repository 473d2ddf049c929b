package orderfeed

import (
	"context"
	"sync"
)

// ListFetchFunc fetches the full order list for a view. The engine never
// hard-codes the data layer; views call whatever the host application wires
// in.
type ListFetchFunc func(ctx context.Context) ([]Order, error)

// OrderFetchFunc fetches a single order.
type OrderFetchFunc func(ctx context.Context, orderID string) (Order, error)

// OrderListView mirrors one identity's order list. The same type serves both
// roles; the relevance filter switches on the identity kind:
//
//   - restaurant: new_order, status_update and order_update events owned by
//     the restaurant are relevant; status_update additionally needs an order
//     id and a status.
//   - user: status_update and order_update events owned by the user are
//     relevant. A user never receives new_order (they placed it themselves).
//
// Ownership always has to match the identity. The view is safe for concurrent
// use: the stream goroutine mutates it while presentation code reads
// snapshots.
type OrderListView struct {
	mu           sync.Mutex
	identity     Identity
	statusFilter string
	fetch        ListFetchFunc
	orders       []Order
	index        map[string]int
	err          error
	closed       bool
}

type OrderListViewOptions struct {
	// StatusFilter limits the view to orders in one status; empty shows all.
	StatusFilter string
}

func NewOrderListView(identity Identity, fetch ListFetchFunc, opts OrderListViewOptions) *OrderListView {
	return &OrderListView{
		identity:     identity,
		statusFilter: opts.StatusFilter,
		fetch:        fetch,
		index:        map[string]int{},
	}
}

func (v *OrderListView) Kind() ViewKind { return ViewList }

func (v *OrderListView) Relevant(ev InboundEvent) bool {
	switch v.identity.Kind {
	case IdentityRestaurant:
		switch ev.Type {
		case EventNewOrder, EventOrderUpdate:
			return ev.RestaurantID == v.identity.ID
		case EventStatusUpdate:
			return ev.RestaurantID == v.identity.ID && ev.OrderID != "" && ev.Status != ""
		}
	case IdentityUser:
		switch ev.Type {
		case EventStatusUpdate, EventOrderUpdate:
			return ev.UserID == v.identity.ID
		}
	}
	return false
}

func (v *OrderListView) HasOrder(orderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.index[orderID]
	return ok
}

func (v *OrderListView) PatchStatus(orderID, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.index[orderID]
	if !ok {
		return
	}
	v.orders[i].Status = status
}

func (v *OrderListView) MatchesFilter(status string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.statusFilter == "" || v.statusFilter == status
}

func (v *OrderListView) RefreshAll(ctx context.Context) error {
	if v.fetch == nil {
		return nil
	}
	orders, err := v.fetch(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		// The view unmounted while the fetch was in flight; dropping the
		// result keeps unmounted state from being written to.
		return ErrViewClosed
	}
	v.orders = orders
	v.index = make(map[string]int, len(orders))
	for i := range orders {
		v.index[orders[i].ID] = i
	}
	v.err = nil
	return nil
}

// RefreshOrder on a list view falls back to a full refresh; a single-order
// refetch cannot answer where the order sorts into the list.
func (v *OrderListView) RefreshOrder(ctx context.Context, orderID string) error {
	return v.RefreshAll(ctx)
}

func (v *OrderListView) SetErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

func (v *OrderListView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Orders returns a copy of the mirrored list.
func (v *OrderListView) Orders() []Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Order(nil), v.orders...)
}

func (v *OrderListView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}

// OrderDetailView mirrors a single displayed order. Navigating to a different
// order mounts a fresh view (and with it a fresh ledger).
type OrderDetailView struct {
	mu       sync.Mutex
	identity Identity
	orderID  string
	fetch    OrderFetchFunc
	order    *Order
	err      error
	closed   bool
}

func NewOrderDetailView(identity Identity, orderID string, fetch OrderFetchFunc) *OrderDetailView {
	return &OrderDetailView{
		identity: identity,
		orderID:  orderID,
		fetch:    fetch,
	}
}

func (v *OrderDetailView) Kind() ViewKind { return ViewDetail }

// Relevant admits only events for the displayed order whose ownership field
// matches the identity. Events with a missing ownership field are rejected;
// there is one relevance contract, not a looser copy per view.
func (v *OrderDetailView) Relevant(ev InboundEvent) bool {
	if ev.OrderID == "" || ev.OrderID != v.orderID {
		return false
	}
	switch v.identity.Kind {
	case IdentityRestaurant:
		return ev.RestaurantID == v.identity.ID
	case IdentityUser:
		return ev.UserID == v.identity.ID
	}
	return false
}

func (v *OrderDetailView) HasOrder(orderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.order != nil && v.order.ID == orderID
}

func (v *OrderDetailView) PatchStatus(orderID, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.order == nil || v.order.ID != orderID {
		return
	}
	v.order.Status = status
}

// MatchesFilter is unconditionally true for a detail view: the displayed
// order has no status filter to fall outside of.
func (v *OrderDetailView) MatchesFilter(string) bool { return true }

func (v *OrderDetailView) RefreshAll(ctx context.Context) error {
	return v.RefreshOrder(ctx, v.orderID)
}

func (v *OrderDetailView) RefreshOrder(ctx context.Context, orderID string) error {
	if v.fetch == nil {
		return nil
	}
	order, err := v.fetch(ctx, orderID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	v.order = &order
	v.err = nil
	return nil
}

func (v *OrderDetailView) SetErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

func (v *OrderDetailView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Order returns a copy of the displayed order, if loaded.
func (v *OrderDetailView) Order() (Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.order == nil {
		return Order{}, false
	}
	return *v.order, true
}

func (v *OrderDetailView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}
