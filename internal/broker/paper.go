package broker

import (
	"context"
	"sync"
	"time"

	"fxsim/internal/errors"
)

// PaperRouter is a Router that keeps orders in memory instead of sending them
// to a venue. Fill turns a resting order into a FillReport.
type PaperRouter struct {
	open     map[string]OrderRequest
	sequence []string
	history  []OrderRequest
	canceled []string
	filled   []string

	mu sync.RWMutex
}

// NewPaperRouter creates an empty paper router.
func NewPaperRouter() *PaperRouter {
	return &PaperRouter{
		open:     make(map[string]OrderRequest),
		sequence: make([]string, 0),
		history:  make([]OrderRequest, 0),
		canceled: make([]string, 0),
		filled:   make([]string, 0),
	}
}

// Submit records an order as resting.
func (p *PaperRouter) Submit(ctx context.Context, req OrderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Size <= 0 || req.Price <= 0 {
		return errors.NewOrderError(req.OrderID, req.Symbol, "submit", "non-positive size or price", errors.ErrInvalidProposal)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.open[req.OrderID]; !exists {
		p.sequence = append(p.sequence, req.OrderID)
	}
	p.open[req.OrderID] = req
	p.history = append(p.history, req)
	return nil
}

// Cancel removes a resting order.
func (p *PaperRouter) Cancel(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.open[orderID]; !ok {
		return errors.NewOrderError(orderID, "", "cancel", "not resting", errors.ErrOrderNotFound)
	}
	p.remove(orderID)
	p.canceled = append(p.canceled, orderID)
	return nil
}

// Fill executes a resting order at price and returns the report the gateway
// would send back.
func (p *PaperRouter) Fill(orderID string, price float64, at time.Time) (FillReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.open[orderID]; !ok {
		return FillReport{}, errors.NewOrderError(orderID, "", "fill", "not resting", errors.ErrOrderNotFound)
	}
	p.remove(orderID)
	p.filled = append(p.filled, orderID)
	return FillReport{OrderID: orderID, Price: price, Timestamp: at}, nil
}

// MarkFilled removes a resting order the simulator has filled.
func (p *PaperRouter) MarkFilled(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.open[orderID]; !ok {
		return errors.NewOrderError(orderID, "", "fill", "not resting", errors.ErrOrderNotFound)
	}
	p.remove(orderID)
	p.filled = append(p.filled, orderID)
	return nil
}

// Open returns the resting orders in submission order.
func (p *PaperRouter) Open() []OrderRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]OrderRequest, 0, len(p.sequence))
	for _, id := range p.sequence {
		out = append(out, p.open[id])
	}
	return out
}

// Get returns a resting order.
func (p *PaperRouter) Get(orderID string) (OrderRequest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	req, ok := p.open[orderID]
	return req, ok
}

// History returns every submission received.
func (p *PaperRouter) History() []OrderRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]OrderRequest, len(p.history))
	copy(out, p.history)
	return out
}

// Canceled returns the ids of canceled orders in cancel order.
func (p *PaperRouter) Canceled() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.canceled))
	copy(out, p.canceled)
	return out
}

// Filled returns the ids of filled orders in fill order.
func (p *PaperRouter) Filled() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.filled))
	copy(out, p.filled)
	return out
}

func (p *PaperRouter) remove(orderID string) {
	delete(p.open, orderID)
	for i, id := range p.sequence {
		if id == orderID {
			p.sequence = append(p.sequence[:i], p.sequence[i+1:]...)
			return
		}
	}
}
