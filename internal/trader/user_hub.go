package trader

import (
	"context"
	"sync"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// UserHub serializes trade initiation per owner: one user's requests
// run one at a time, so a double-tapped buy or a buy racing a manual
// sell cannot interleave. Different owners proceed concurrently.
type UserHub struct {
	buyer  *Buyer
	seller *Seller

	mu    sync.Mutex
	users map[int64]*userQueue
}

// NewUserHub creates a UserHub over the buyer and seller.
func NewUserHub(buyer *Buyer, seller *Seller) *UserHub {
	return &UserHub{
		buyer:  buyer,
		seller: seller,
		users:  make(map[int64]*userQueue),
	}
}

// OpenPosition runs the buy on the owner's queue.
func (h *UserHub) OpenPosition(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	var (
		pos *domain.Position
		err error
	)
	qerr := h.queueFor(req.OwnerID).do(ctx, func() {
		pos, err = h.buyer.OpenPosition(ctx, req)
	})
	if qerr != nil {
		return nil, qerr
	}
	return pos, err
}

// SellNow runs a manual sell on the owner's queue.
func (h *UserHub) SellNow(ctx context.Context, ownerID int64, pair domain.TokenPair, positionID string) error {
	var err error
	qerr := h.queueFor(ownerID).do(ctx, func() {
		err = h.seller.SellNow(ctx, pair, positionID)
	})
	if qerr != nil {
		return qerr
	}
	return err
}

func (h *UserHub) queueFor(ownerID int64) *userQueue {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.users[ownerID]
	if q == nil {
		q = &userQueue{}
		h.users[ownerID] = q
	}
	return q
}

// userQueue admits one request at a time. A mutex rather than a
// goroutine-and-channel actor: requests are synchronous calls that want
// the result back, so there is nothing to post.
type userQueue struct {
	mu sync.Mutex
}

func (q *userQueue) do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrContextDone
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
	return nil
}
