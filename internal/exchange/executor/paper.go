package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/perpx/engine/internal/matching"
	"github.com/perpx/engine/internal/xerrors"
	"github.com/perpx/engine/internal/types"
)

// paperOrder maps a client order ID to its matching-engine order.
type paperOrder struct {
	engineID int64
	last     types.Order // last known snapshot; the engine drops terminal orders from its own table
}

// PaperAdapter is the supplemented reference VenueAdapter (SPEC_FULL.md §5):
// it routes order submission into the in-process matching engine (C4)
// instead of a real venue, so backtests and integration tests can exercise
// the executor's retry/self-trade/latch protocol without network I/O.
type PaperAdapter struct {
	engine *matching.Engine

	mu     sync.Mutex
	orders map[string]*paperOrder
}

func NewPaperAdapter(engine *matching.Engine) *PaperAdapter {
	return &PaperAdapter{engine: engine, orders: make(map[string]*paperOrder)}
}

func (p *PaperAdapter) SubmitOrder(ctx context.Context, accountID string, nonce int64, req types.OrderRequest) (string, error) {
	result := p.engine.SubmitOrder(req)
	if result.Rejected {
		return "", xerrors.New(xerrors.Validation, xerrors.CodeUnknown, result.Reason)
	}
	orderID := fmt.Sprintf("%s-%d", accountID, result.Order.ID)

	p.mu.Lock()
	p.orders[orderID] = &paperOrder{engineID: result.Order.ID, last: result.Order}
	p.mu.Unlock()
	return orderID, nil
}

func (p *PaperAdapter) OrderStatus(ctx context.Context, accountID, orderID string) (types.OrderStatus, types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[orderID]
	if !ok {
		return "", types.Order{}, fmt.Errorf("paper adapter: unknown order %s", orderID)
	}
	if live := p.engine.Order(po.engineID); live != nil {
		po.last = *live
	}
	return po.last.Status, po.last, nil
}

func (p *PaperAdapter) CancelOrder(ctx context.Context, accountID, orderID string) error {
	p.mu.Lock()
	po, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper adapter: unknown order %s", orderID)
	}
	if p.engine.CancelOrder(po.engineID) {
		p.mu.Lock()
		po.last.Status = types.OrderCancelled
		p.mu.Unlock()
	}
	return nil
}
