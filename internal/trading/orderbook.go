package trading

import (
	"fmt"
	"time"

	"fxsim/internal/errors"
	"fxsim/internal/models"
)

// OrderBook owns every order by id. Orders refer to their bracket trade by id
// only; the book keeps ACCEPTED orders in submission order so evaluation is
// deterministic.
type OrderBook struct {
	orders   map[string]*models.Order
	archived map[string]*models.Order
	active   []string
	seq      int
}

// NewOrderBook creates an empty order book.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		orders:   make(map[string]*models.Order),
		archived: make(map[string]*models.Order),
		active:   make([]string, 0),
	}
}

// NextID returns a fresh order id. Ids are never reused.
func (b *OrderBook) NextID() string {
	b.seq++
	return fmt.Sprintf("O-%06d", b.seq)
}

// Add stores an order. ACCEPTED orders go straight onto the active list.
func (b *OrderBook) Add(o *models.Order) {
	b.orders[o.ID] = o
	if o.Status == models.OrderStatusAccepted {
		b.active = append(b.active, o.ID)
	}
}

// Get returns the order with id, live or archived.
func (b *OrderBook) Get(id string) (*models.Order, bool) {
	if o, ok := b.orders[id]; ok {
		return o, true
	}
	o, ok := b.archived[id]
	return o, ok
}

// Activate moves a SUBMITTED order onto the active list.
func (b *OrderBook) Activate(id string) error {
	o, ok := b.orders[id]
	if !ok {
		return errors.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusSubmitted {
		return errors.NewOrderError(id, o.Symbol, "activate", string(o.Status), errors.ErrOrderNotActive)
	}
	o.Status = models.OrderStatusAccepted
	b.active = append(b.active, id)
	return nil
}

// Cancel cancels a non-terminal order. It reports whether the status changed
// and whether the order was live on the book at the time.
func (b *OrderBook) Cancel(id string) (changed, wasActive bool) {
	o, ok := b.orders[id]
	if !ok || o.Status.Terminal() {
		return false, false
	}
	wasActive = o.Status == models.OrderStatusAccepted
	o.Status = models.OrderStatusCanceled
	if wasActive {
		b.removeActive(id)
	}
	return true, wasActive
}

// MarkFilled records the execution of an ACCEPTED order.
func (b *OrderBook) MarkFilled(id string, price float64, barIndex int, ts time.Time) error {
	o, ok := b.orders[id]
	if !ok {
		return errors.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAccepted {
		return errors.NewOrderError(id, o.Symbol, "fill", string(o.Status), errors.ErrOrderNotActive)
	}
	o.Status = models.OrderStatusFilled
	o.ExecutedPrice = price
	o.FilledBar = barIndex
	o.FilledAt = ts
	b.removeActive(id)
	return nil
}

// Active returns the ACCEPTED orders for symbol with STOP orders first, each
// group in submission order. Adverse-first evaluation makes a bar that spans
// both legs of an OCO pair resolve to the stop.
func (b *OrderBook) Active(symbol string) []*models.Order {
	stops := make([]*models.Order, 0)
	rest := make([]*models.Order, 0)
	for _, id := range b.active {
		o := b.orders[id]
		if o.Symbol != symbol {
			continue
		}
		if o.Kind == models.OrderKindStop {
			stops = append(stops, o)
		} else {
			rest = append(rest, o)
		}
	}
	return append(stops, rest...)
}

// ActiveCount returns the number of orders live on the book.
func (b *OrderBook) ActiveCount() int {
	return len(b.active)
}

// Archive moves terminal orders out of the live book. Archived orders stay
// readable through Get.
func (b *OrderBook) Archive(ids ...string) {
	for _, id := range ids {
		o, ok := b.orders[id]
		if !ok || !o.Status.Terminal() {
			continue
		}
		b.archived[id] = o
		delete(b.orders, id)
	}
}

func (b *OrderBook) removeActive(id string) {
	for i, aid := range b.active {
		if aid == id {
			b.active = append(b.active[:i], b.active[i+1:]...)
			return
		}
	}
}
