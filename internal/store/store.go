package store

import (
	"context"
	"errors"
	"time"

	"github.com/motorbid/auction-engine/pkg/types"
)

// Sentinel errors shared by all Store implementations. Callers match with
// errors.Is; implementations wrap them with query context.
var (
	// ErrNotFound signals a missing row, or a guarded update whose
	// precondition no longer holds.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost concurrent race (serialization failure);
	// the caller may re-validate against fresh state and retry.
	ErrConflict = errors.New("concurrent update conflict")
)

// BidTx is the atomic unit of bid admission. All four mutations between
// Begin and Commit apply together or not at all relative to any other
// admission on the same auction.
type BidTx interface {
	// GetAuctionForUpdate loads the auction and locks its row until the
	// transaction resolves.
	GetAuctionForUpdate(ctx context.Context, auctionID string) (types.Auction, error)
	// ClearWinningBid drops the isWinning flag on the auction's previous
	// winner, if any.
	ClearWinningBid(ctx context.Context, auctionID string) error
	// CreateBid persists a new bid row.
	CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error)
	// UpdateAuctionBid writes currentBid, currentBidderId and biddersCount.
	UpdateAuctionBid(ctx context.Context, auction types.Auction) (types.Auction, error)

	Commit() error
	Rollback() error
}

// Store is the persistence boundary over auctions, bids, favorites and
// notifications.
type Store interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error

	// USER METHODS
	GetUserByEmail(ctx context.Context, email string) (types.User, error)

	// AUCTION METHODS
	GetAuctionByID(ctx context.Context, auctionID string) (types.Auction, error)
	// ListOpenAuctions returns every auction in a non-terminal,
	// time-driven state (scheduled or active).
	ListOpenAuctions(ctx context.Context) ([]types.Auction, error)
	// ListCurrentAuctions returns active auctions ordered by end date.
	ListCurrentAuctions(ctx context.Context) ([]types.Auction, error)
	// UpdateAuctionStatus applies a guarded status transition: the update
	// only takes effect while the auction still holds the from status,
	// otherwise ErrNotFound is returned and the row is untouched.
	UpdateAuctionStatus(ctx context.Context, auctionID string, from, to types.AuctionStatus, winningBidID *string) (types.Auction, error)

	// BID METHODS
	GetBidsForAuction(ctx context.Context, auctionID string) ([]types.Bid, error)
	// GetWinningBid returns the bid currently flagged isWinning, or
	// ErrNotFound when the auction has no bids.
	GetWinningBid(ctx context.Context, auctionID string) (types.Bid, error)
	// BeginBidTx opens the per-auction atomic admission unit.
	BeginBidTx(ctx context.Context) (BidTx, error)

	// FAVORITE METHODS
	GetWatchersForAuction(ctx context.Context, auctionID string) ([]types.Favorite, error)

	// NOTIFICATION METHODS
	CreateNotifications(ctx context.Context, notifications []types.Notification) error
	ListDueNotifications(ctx context.Context, now time.Time) ([]types.Notification, error)
	// MarkNotificationSent flips isSent exactly once; it reports false when
	// the notification was already sent (or does not exist).
	MarkNotificationSent(ctx context.Context, notificationID string) (bool, error)
	ListNotificationsForUser(ctx context.Context, userID string) ([]types.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
}
