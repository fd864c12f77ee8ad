package types

import (
	"time"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AuctionStatus is the lifecycle state of an auction. Transitions are applied
// by the state machine only; terminal states admit no further transitions.
type AuctionStatus string

const (
	StatusDraft           AuctionStatus = "draft"
	StatusPendingApproval AuctionStatus = "pending_approval"
	StatusScheduled       AuctionStatus = "scheduled"
	StatusActive          AuctionStatus = "active"
	StatusEnded           AuctionStatus = "ended"
	StatusCancelled       AuctionStatus = "cancelled"
	StatusSold            AuctionStatus = "sold"
	StatusRejected        AuctionStatus = "rejected"
)

// Terminal reports whether no further transitions may leave the status.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusCancelled, StatusSold, StatusRejected:
		return true
	}
	return false
}

// Auction references its vehicle and seller by id only. Prices are integer
// amounts in the smallest currency unit.
type Auction struct {
	ID              string        `json:"id"`
	VehicleID       string        `json:"vehicleId"`
	SellerID        string        `json:"sellerId"`
	StartDate       time.Time     `json:"startDate"`
	EndDate         time.Time     `json:"endDate"`
	StartingPrice   int           `json:"startingPrice"`
	ReservePrice    *int          `json:"reservePrice,omitempty"`
	CurrentBid      int           `json:"currentBid"`
	BidIncrement    int           `json:"bidIncrement"`
	CurrentBidderID *string       `json:"currentBidderId,omitempty"`
	BiddersCount    int           `json:"biddersCount"`
	WinningBidID    *string       `json:"winningBidId,omitempty"`
	ViewCount       int           `json:"viewCount"`
	WatchCount      int           `json:"watchCount"`
	Status          AuctionStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Bid rows are immutable once persisted, except for IsWinning which is handed
// from the previous winner to the new one inside the admission transaction.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	BidderID  string    `json:"bidderId"`
	Amount    int       `json:"amount"`
	IsWinning bool      `json:"isWinning"`
	CreatedAt time.Time `json:"createdAt"`
}

// Favorite marks a user as a watcher of an auction, unique per pair.
type Favorite struct {
	UserID    string    `json:"userId"`
	AuctionID string    `json:"auctionId"`
	CreatedAt time.Time `json:"createdAt"`
}

type NotificationType string

const (
	NotifyEnding24h    NotificationType = "ending_24h"
	NotifyEnding12h    NotificationType = "ending_12h"
	NotifyEnding6h     NotificationType = "ending_6h"
	NotifyEnding3h     NotificationType = "ending_3h"
	NotifyEnding1h     NotificationType = "ending_1h"
	NotifyEnding15m    NotificationType = "ending_15m"
	NotifyAuctionWon   NotificationType = "auction_won"
	NotifyAuctionEnded NotificationType = "auction_ended"
)

type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	AuctionID   string           `json:"auctionId"`
	Type        NotificationType `json:"type"`
	TriggerTime time.Time        `json:"triggerTime"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	IsSent      bool             `json:"isSent"`
	IsRead      bool             `json:"isRead"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// BidAcceptedEvent is fanned out to every subscriber of the auction's topic
// after a bid commits. Bidder carries the masked display name, never the id.
type BidAcceptedEvent struct {
	AuctionID string    `json:"auction_id"`
	Amount    int       `json:"amount"`
	Bidder    string    `json:"bidder"`
	IsWinning bool      `json:"is_winning"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChangedEvent announces a lifecycle transition. WinningBidID is set
// only for ended/sold auctions that have a winner.
type StatusChangedEvent struct {
	AuctionID    string        `json:"auction_id"`
	Status       AuctionStatus `json:"status"`
	EndDate      time.Time     `json:"end_date"`
	WinningBidID *string       `json:"winning_bid_id,omitempty"`
}
