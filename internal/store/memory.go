package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/motorbid/auction-engine/pkg/types"
)

// Memory is a concurrency-safe in-memory Store used by unit tests and local
// development. A memory bid transaction holds the store mutex from begin to
// resolution, which gives it the same serialization the row lock provides in
// Postgres.
type Memory struct {
	mu            sync.Mutex
	users         map[string]types.User    // keyed by email
	auctions      map[string]types.Auction // keyed by auction id
	bids          map[string][]types.Bid   // auction id -> bids in commit order
	favorites     map[string][]types.Favorite
	notifications map[string]types.Notification
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]types.User),
		auctions:      make(map[string]types.Auction),
		bids:          make(map[string][]types.Bid),
		favorites:     make(map[string][]types.Favorite),
		notifications: make(map[string]types.Notification),
	}
}

func (m *Memory) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (m *Memory) Close() error { return nil }

// AddUser seeds a user. Intended for tests.
func (m *Memory) AddUser(user types.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.Email] = user
}

// AddAuction seeds or replaces an auction. Intended for tests.
func (m *Memory) AddAuction(auction types.Auction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[auction.ID] = auction
}

// AddFavorite seeds a watcher pair. Intended for tests.
func (m *Memory) AddFavorite(favorite types.Favorite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.favorites[favorite.AuctionID] {
		if f.UserID == favorite.UserID {
			return
		}
	}
	m.favorites[favorite.AuctionID] = append(m.favorites[favorite.AuctionID], favorite)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[email]
	if !ok {
		return types.User{}, fmt.Errorf("get user %s: %w", email, ErrNotFound)
	}
	return user, nil
}

func (m *Memory) GetAuctionByID(ctx context.Context, auctionID string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAuctionLocked(auctionID)
}

func (m *Memory) getAuctionLocked(auctionID string) (types.Auction, error) {
	auction, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, ErrNotFound)
	}
	return auction, nil
}

func (m *Memory) ListOpenAuctions(ctx context.Context) ([]types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var auctions []types.Auction
	for _, a := range m.auctions {
		if a.Status == types.StatusScheduled || a.Status == types.StatusActive {
			auctions = append(auctions, a)
		}
	}
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].EndDate.Before(auctions[j].EndDate) })
	return auctions, nil
}

func (m *Memory) ListCurrentAuctions(ctx context.Context) ([]types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var auctions []types.Auction
	for _, a := range m.auctions {
		if a.Status == types.StatusActive {
			auctions = append(auctions, a)
		}
	}
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].EndDate.Before(auctions[j].EndDate) })
	return auctions, nil
}

func (m *Memory) UpdateAuctionStatus(ctx context.Context, auctionID string, from, to types.AuctionStatus, winningBidID *string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auction, ok := m.auctions[auctionID]
	if !ok || auction.Status != from {
		return types.Auction{}, fmt.Errorf("update auction %s status %s->%s: %w", auctionID, from, to, ErrNotFound)
	}
	auction.Status = to
	if winningBidID != nil {
		auction.WinningBidID = winningBidID
	}
	auction.UpdatedAt = time.Now().UTC()
	m.auctions[auctionID] = auction
	return auction, nil
}

func (m *Memory) GetBidsForAuction(ctx context.Context, auctionID string) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Bid(nil), m.bids[auctionID]...), nil
}

func (m *Memory) GetWinningBid(ctx context.Context, auctionID string) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bids[auctionID] {
		if b.IsWinning {
			return b, nil
		}
	}
	return types.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, ErrNotFound)
}

// memoryBidTx buffers mutations and applies them on commit. The store mutex
// is held for the lifetime of the transaction.
type memoryBidTx struct {
	store        *Memory
	auctionID    string
	auction      *types.Auction
	newBids      []types.Bid
	clearWinning bool
	done         bool
}

func (m *Memory) BeginBidTx(ctx context.Context) (BidTx, error) {
	m.mu.Lock()
	return &memoryBidTx{store: m}, nil
}

func (t *memoryBidTx) GetAuctionForUpdate(ctx context.Context, auctionID string) (types.Auction, error) {
	auction, err := t.store.getAuctionLocked(auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	t.auctionID = auctionID
	return auction, nil
}

func (t *memoryBidTx) ClearWinningBid(ctx context.Context, auctionID string) error {
	t.auctionID = auctionID
	t.clearWinning = true
	return nil
}

func (t *memoryBidTx) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	t.newBids = append(t.newBids, bid)
	return bid, nil
}

func (t *memoryBidTx) UpdateAuctionBid(ctx context.Context, auction types.Auction) (types.Auction, error) {
	auction.UpdatedAt = time.Now().UTC()
	t.auction = &auction
	return auction, nil
}

func (t *memoryBidTx) Commit() error {
	if t.done {
		return fmt.Errorf("bid transaction already resolved")
	}
	t.done = true
	defer t.store.mu.Unlock()

	if t.clearWinning {
		bids := t.store.bids[t.auctionID]
		for i := range bids {
			bids[i].IsWinning = false
		}
	}
	for _, bid := range t.newBids {
		t.store.bids[bid.AuctionID] = append(t.store.bids[bid.AuctionID], bid)
	}
	if t.auction != nil {
		t.store.auctions[t.auction.ID] = *t.auction
	}
	return nil
}

func (t *memoryBidTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (m *Memory) GetWatchersForAuction(ctx context.Context, auctionID string) ([]types.Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Favorite(nil), m.favorites[auctionID]...), nil
}

func (m *Memory) CreateNotifications(ctx context.Context, notifications []types.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range notifications {
		m.notifications[n.ID] = n
	}
	return nil
}

func (m *Memory) ListDueNotifications(ctx context.Context, now time.Time) ([]types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []types.Notification
	for _, n := range m.notifications {
		if !n.IsSent && !n.TriggerTime.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].TriggerTime.Before(due[j].TriggerTime) })
	return due, nil
}

func (m *Memory) MarkNotificationSent(ctx context.Context, notificationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok || n.IsSent {
		return false, nil
	}
	n.IsSent = true
	m.notifications[notificationID] = n
	return true, nil
}

func (m *Memory) ListNotificationsForUser(ctx context.Context, userID string) ([]types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var notifications []types.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			notifications = append(notifications, n)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].TriggerTime.After(notifications[j].TriggerTime)
	})
	return notifications, nil
}

func (m *Memory) MarkNotificationRead(ctx context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok {
		return fmt.Errorf("mark notification %s read: %w", notificationID, ErrNotFound)
	}
	n.IsRead = true
	m.notifications[notificationID] = n
	return nil
}
