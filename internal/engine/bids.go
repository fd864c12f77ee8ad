package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/errors"
	"github.com/motorbid/auction-engine/pkg/types"
	"github.com/motorbid/auction-engine/pkg/utils"
)

// Broadcaster receives committed engine events for real-time fan-out.
type Broadcaster interface {
	PublishBidAccepted(event types.BidAcceptedEvent)
	PublishStatusChanged(event types.StatusChangedEvent)
}

// admissionRetries bounds re-validation after a lost concurrent race.
const admissionRetries = 3

// Bidder admits bids against auctions. Admissions on the same auction are
// serialized by a per-auction mutex plus the auction row lock; admissions on
// different auctions never block each other.
type Bidder struct {
	store        store.Store
	broadcaster  Broadcaster
	locks        *keyedMutex
	minIncrement int
	now          func() time.Time
}

// NewBidder creates the bid admission service. minIncrement is the fallback
// increment for auctions without their own; zero falls back to the smallest
// currency unit.
func NewBidder(st store.Store, broadcaster Broadcaster, minIncrement int) *Bidder {
	return &Bidder{
		store:        st,
		broadcaster:  broadcaster,
		locks:        newKeyedMutex(),
		minIncrement: minIncrement,
		now:          time.Now,
	}
}

// increment resolves the minimum admissible increase over the current price.
func (b *Bidder) increment(auction types.Auction) int {
	if auction.BidIncrement > 0 {
		return auction.BidIncrement
	}
	if b.minIncrement > 0 {
		return b.minIncrement
	}
	return 1
}

// PlaceBid validates and atomically commits a bid. On success the committed
// bid is returned and a BidAccepted event is published while the auction is
// still serialized, so subscribers observe bids in commit order.
func (b *Bidder) PlaceBid(ctx context.Context, auctionID, bidderID, displayName string, amount int) (types.Bid, error) {
	b.locks.Lock(auctionID)
	defer b.locks.Unlock(auctionID)

	var bid types.Bid
	var err error
	for attempt := 0; attempt < admissionRetries; attempt++ {
		bid, err = b.admit(ctx, auctionID, bidderID, amount)
		if err == nil || !stderrors.Is(err, store.ErrConflict) {
			break
		}
		log.Debugf("Bid admission conflict on auction %s, retrying (attempt %d)", auctionID, attempt+1)
	}
	if err != nil {
		return types.Bid{}, err
	}

	if b.broadcaster != nil {
		b.broadcaster.PublishBidAccepted(types.BidAcceptedEvent{
			AuctionID: bid.AuctionID,
			Amount:    bid.Amount,
			Bidder:    utils.MaskName(displayName),
			IsWinning: bid.IsWinning,
			Timestamp: bid.CreatedAt,
		})
	}
	return bid, nil
}

// admit runs one attempt of the atomic admission unit.
func (b *Bidder) admit(ctx context.Context, auctionID, bidderID string, amount int) (types.Bid, error) {
	tx, err := b.store.BeginBidTx(ctx)
	if err != nil {
		return types.Bid{}, errors.Wrap(err, "failed to start bid transaction")
	}
	defer tx.Rollback()

	auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return types.Bid{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
		}
		return types.Bid{}, err
	}

	now := b.now()
	if err := b.validate(auction, bidderID, amount, now); err != nil {
		return types.Bid{}, err
	}

	if err := tx.ClearWinningBid(ctx, auctionID); err != nil {
		return types.Bid{}, err
	}

	bid := types.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		IsWinning: true,
		CreatedAt: now.UTC(),
	}
	bid, err = tx.CreateBid(ctx, bid)
	if err != nil {
		return types.Bid{}, err
	}

	auction.CurrentBid = amount
	auction.CurrentBidderID = &bidderID
	auction.BiddersCount++
	auction.WinningBidID = &bid.ID
	if _, err := tx.UpdateAuctionBid(ctx, auction); err != nil {
		return types.Bid{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Bid{}, err
	}

	log.Debugf("Bid %s accepted on auction %s at %d", bid.ID, auctionID, amount)
	return bid, nil
}

// validate applies the admission preconditions in their contractual order.
func (b *Bidder) validate(auction types.Auction, bidderID string, amount int, now time.Time) error {
	if auction.Status != types.StatusActive {
		return errors.New(errors.ErrAuctionClosed, "auction is not open for bidding")
	}
	if !now.Before(auction.EndDate) {
		return errors.New(errors.ErrAuctionEnded, "auction has already ended")
	}
	if bidderID == auction.SellerID {
		return errors.New(errors.ErrSelfBid, "seller cannot bid on their own auction")
	}

	floor := auction.CurrentBid
	if auction.StartingPrice > floor {
		floor = auction.StartingPrice
	}
	minAdmissible := floor + b.increment(auction)
	if amount < minAdmissible {
		return errors.New(errors.ErrBidTooLow,
			fmt.Sprintf("bid must exceed current price: minimum admissible bid is %d", minAdmissible))
	}
	return nil
}
