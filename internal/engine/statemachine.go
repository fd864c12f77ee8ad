package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/types"
)

// SweepResult reports the auctions a sweep moved into a new state.
type SweepResult struct {
	Activated []types.Auction
	Ended     []types.Auction
}

// StateMachine applies time-driven lifecycle transitions. Transitions are
// guarded compare-and-set updates on the status column, so a sweep is
// idempotent and safe under repeated or overlapping invocation.
type StateMachine struct {
	store       store.Store
	broadcaster Broadcaster
	now         func() time.Time
}

func NewStateMachine(st store.Store, broadcaster Broadcaster) *StateMachine {
	return &StateMachine{store: st, broadcaster: broadcaster, now: time.Now}
}

// Sweep walks every non-terminal auction and applies the transition its
// clock position requires. A failure on one auction is logged and does not
// abort the rest of the sweep.
func (m *StateMachine) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	auctions, err := m.store.ListOpenAuctions(ctx)
	if err != nil {
		return result, fmt.Errorf("state sweep: %w", err)
	}

	for _, auction := range auctions {
		updated, err := m.apply(ctx, auction, now)
		if err != nil {
			log.Error("Failed to transition auction", "auction", auction.ID, "error", err)
			continue
		}
		if updated == nil {
			continue
		}
		switch updated.Status {
		case types.StatusActive:
			result.Activated = append(result.Activated, *updated)
		case types.StatusEnded, types.StatusSold:
			result.Ended = append(result.Ended, *updated)
		}
	}
	return result, nil
}

// apply computes and commits the transition due for one auction, returning
// nil when the auction is not due for any.
func (m *StateMachine) apply(ctx context.Context, auction types.Auction, now time.Time) (*types.Auction, error) {
	switch auction.Status {
	case types.StatusScheduled:
		if now.Before(auction.StartDate) {
			return nil, nil
		}
		return m.activate(ctx, auction)
	case types.StatusActive:
		if now.Before(auction.EndDate) {
			return nil, nil
		}
		return m.end(ctx, auction)
	}
	return nil, nil
}

func (m *StateMachine) activate(ctx context.Context, auction types.Auction) (*types.Auction, error) {
	updated, err := m.store.UpdateAuctionStatus(ctx, auction.ID, types.StatusScheduled, types.StatusActive, nil)
	if err != nil {
		// A concurrent sweep already applied the transition.
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	log.Infof("Auction %s is now active, ends at %s", updated.ID, updated.EndDate)
	m.publishStatus(updated)
	return &updated, nil
}

// end resolves the auction outcome: sold when a winning bid exists and the
// reserve (if any) is met, ended otherwise. The winning bid reference is
// recorded whenever a winner exists, even below reserve.
func (m *StateMachine) end(ctx context.Context, auction types.Auction) (*types.Auction, error) {
	status := types.StatusEnded
	var winningBidID *string

	winning, err := m.store.GetWinningBid(ctx, auction.ID)
	switch {
	case err == nil:
		winningBidID = &winning.ID
		if auction.ReservePrice == nil || auction.CurrentBid >= *auction.ReservePrice {
			status = types.StatusSold
		} else {
			log.Debugf("Auction %s did not meet reserve price", auction.ID)
		}
	case stderrors.Is(err, store.ErrNotFound):
		// No bids; the auction ends without a winner.
	default:
		return nil, err
	}

	updated, err := m.store.UpdateAuctionStatus(ctx, auction.ID, types.StatusActive, status, winningBidID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	log.Infof("Auction %s has ended with status %s", updated.ID, updated.Status)
	m.publishStatus(updated)
	return &updated, nil
}

// Cancel applies the administrative cancellation of a non-terminal auction
// and halts any further bid admission on it.
func (m *StateMachine) Cancel(ctx context.Context, auctionID string) (types.Auction, error) {
	auction, err := m.store.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	if auction.Status.Terminal() {
		return types.Auction{}, fmt.Errorf("auction %s is already in terminal state %s", auctionID, auction.Status)
	}

	updated, err := m.store.UpdateAuctionStatus(ctx, auctionID, auction.Status, types.StatusCancelled, nil)
	if err != nil {
		return types.Auction{}, err
	}

	log.Infof("Auction %s cancelled", auctionID)
	m.publishStatus(updated)
	return updated, nil
}

func (m *StateMachine) publishStatus(auction types.Auction) {
	if m.broadcaster == nil {
		return
	}
	event := types.StatusChangedEvent{
		AuctionID: auction.ID,
		Status:    auction.Status,
		EndDate:   auction.EndDate,
	}
	if auction.Status == types.StatusEnded || auction.Status == types.StatusSold {
		event.WinningBidID = auction.WinningBidID
	}
	m.broadcaster.PublishStatusChanged(event)
}
