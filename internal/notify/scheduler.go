package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/types"
)

// Deliverer is the external transport boundary. The scheduler marks a
// notification sent before handing it over; delivery itself is best-effort.
type Deliverer interface {
	Deliver(ctx context.Context, notification types.Notification) error
}

// reminderOffsets are the fixed time-to-end buckets, largest first.
var reminderOffsets = []struct {
	offset time.Duration
	typ    types.NotificationType
	label  string
}{
	{24 * time.Hour, types.NotifyEnding24h, "24 hours"},
	{12 * time.Hour, types.NotifyEnding12h, "12 hours"},
	{6 * time.Hour, types.NotifyEnding6h, "6 hours"},
	{3 * time.Hour, types.NotifyEnding3h, "3 hours"},
	{time.Hour, types.NotifyEnding1h, "1 hour"},
	{15 * time.Minute, types.NotifyEnding15m, "15 minutes"},
}

// Scheduler creates end-of-auction reminders for watchers and sweeps due
// notifications exactly once.
type Scheduler struct {
	store store.Store
	now   func() time.Time
}

func NewScheduler(st store.Store) *Scheduler {
	return &Scheduler{store: st, now: time.Now}
}

// ScheduleForAuction creates one reminder per watcher per offset whose
// trigger time is still in the future. Past offsets are skipped, never
// backfilled.
func (s *Scheduler) ScheduleForAuction(ctx context.Context, auctionID string) error {
	auction, err := s.store.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	watchers, err := s.store.GetWatchersForAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	if len(watchers) == 0 {
		return nil
	}

	now := s.now()
	var notifications []types.Notification
	for _, watcher := range watchers {
		for _, reminder := range reminderOffsets {
			triggerTime := auction.EndDate.Add(-reminder.offset)
			if !triggerTime.After(now) {
				continue
			}
			notifications = append(notifications, types.Notification{
				ID:          uuid.New().String(),
				UserID:      watcher.UserID,
				AuctionID:   auctionID,
				Type:        reminder.typ,
				TriggerTime: triggerTime,
				Title:       "Auction ending soon",
				Message:     fmt.Sprintf("An auction you are watching ends in %s", reminder.label),
				CreatedAt:   now.UTC(),
			})
		}
	}
	if len(notifications) == 0 {
		return nil
	}

	if err := s.store.CreateNotifications(ctx, notifications); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	log.Debugf("Scheduled %d reminders for auction %s", len(notifications), auctionID)
	return nil
}

// ScheduleOutcome creates immediate outcome notifications for an ended
// auction: auction_won for the winning bidder, auction_ended for the other
// watchers. They flow through the same due-sweep as reminders.
func (s *Scheduler) ScheduleOutcome(ctx context.Context, auction types.Auction) error {
	watchers, err := s.store.GetWatchersForAuction(ctx, auction.ID)
	if err != nil {
		return fmt.Errorf("schedule outcome: %w", err)
	}

	now := s.now()
	recipients := make(map[string]types.NotificationType, len(watchers)+1)
	for _, watcher := range watchers {
		recipients[watcher.UserID] = types.NotifyAuctionEnded
	}
	if auction.Status == types.StatusSold && auction.CurrentBidderID != nil {
		recipients[*auction.CurrentBidderID] = types.NotifyAuctionWon
	}

	var notifications []types.Notification
	for userID, typ := range recipients {
		title, message := "Auction ended", "An auction you were watching has ended"
		if typ == types.NotifyAuctionWon {
			title, message = "You won the auction", fmt.Sprintf("Your bid of %d won the auction", auction.CurrentBid)
		}
		notifications = append(notifications, types.Notification{
			ID:          uuid.New().String(),
			UserID:      userID,
			AuctionID:   auction.ID,
			Type:        typ,
			TriggerTime: now.UTC(),
			Title:       title,
			Message:     message,
			CreatedAt:   now.UTC(),
		})
	}
	if len(notifications) == 0 {
		return nil
	}

	if err := s.store.CreateNotifications(ctx, notifications); err != nil {
		return fmt.Errorf("schedule outcome: %w", err)
	}
	return nil
}

// SweepDue finds unsent notifications whose trigger time has passed, marks
// each sent through the store's compare-and-set, and returns only those this
// sweep won. A repeated sweep over the same due-set returns nothing new.
func (s *Scheduler) SweepDue(ctx context.Context, now time.Time) ([]types.Notification, error) {
	due, err := s.store.ListDueNotifications(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("sweep due notifications: %w", err)
	}

	var won []types.Notification
	for _, notification := range due {
		sent, err := s.store.MarkNotificationSent(ctx, notification.ID)
		if err != nil {
			log.Error("Failed to mark notification sent", "notification", notification.ID, "error", err)
			continue
		}
		if !sent {
			// Another sweep already claimed it.
			continue
		}
		notification.IsSent = true
		won = append(won, notification)
	}
	return won, nil
}
