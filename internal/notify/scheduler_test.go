package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/types"
)

func seedAuction(db *store.Memory, id string, endDate time.Time, watchers ...string) {
	db.AddAuction(types.Auction{
		ID:        id,
		SellerID:  "seller-1",
		StartDate: endDate.Add(-48 * time.Hour),
		EndDate:   endDate,
		Status:    types.StatusActive,
	})
	for _, userID := range watchers {
		db.AddFavorite(types.Favorite{UserID: userID, AuctionID: id})
	}
}

// Scenario: with the end 20 hours away, the 24h offset has already passed
// and is skipped; the remaining five offsets fire for each of the three
// watchers.
func TestScheduleForAuction_SkipsPastOffsets(t *testing.T) {
	db := store.NewMemory()
	now := time.Now().UTC()
	seedAuction(db, "auction-1", now.Add(20*time.Hour), "user-1", "user-2", "user-3")

	scheduler := NewScheduler(db)
	require.NoError(t, scheduler.ScheduleForAuction(context.Background(), "auction-1"))

	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		notifications, err := db.ListNotificationsForUser(context.Background(), userID)
		require.NoError(t, err)
		require.Len(t, notifications, 5)

		seen := make(map[types.NotificationType]bool)
		for _, n := range notifications {
			seen[n.Type] = true
			require.True(t, n.TriggerTime.After(now), "trigger times are always in the future at schedule time")
			require.True(t, n.TriggerTime.Before(now.Add(20*time.Hour)), "trigger times precede the auction end")
			require.False(t, n.IsSent)
		}
		require.False(t, seen[types.NotifyEnding24h], "the 24h offset already passed and must be skipped")
		for _, typ := range []types.NotificationType{
			types.NotifyEnding12h, types.NotifyEnding6h, types.NotifyEnding3h,
			types.NotifyEnding1h, types.NotifyEnding15m,
		} {
			require.True(t, seen[typ], "missing %s reminder", typ)
		}
	}
}

func TestScheduleForAuction_NoWatchers(t *testing.T) {
	db := store.NewMemory()
	seedAuction(db, "auction-1", time.Now().UTC().Add(20*time.Hour))

	scheduler := NewScheduler(db)
	require.NoError(t, scheduler.ScheduleForAuction(context.Background(), "auction-1"))

	due, err := db.ListDueNotifications(context.Background(), time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestScheduleForAuction_UnknownAuction(t *testing.T) {
	scheduler := NewScheduler(store.NewMemory())
	require.Error(t, scheduler.ScheduleForAuction(context.Background(), "missing"))
}

func TestSweepDue_ExactlyOnce(t *testing.T) {
	db := store.NewMemory()
	now := time.Now().UTC()
	seedAuction(db, "auction-1", now.Add(2*time.Hour), "user-1", "user-2")

	scheduler := NewScheduler(db)
	ctx := context.Background()
	require.NoError(t, scheduler.ScheduleForAuction(ctx, "auction-1"))

	// Only the 1h and 15m reminders fall due before the end.
	sweepTime := now.Add(2 * time.Hour)
	first, err := scheduler.SweepDue(ctx, sweepTime)
	require.NoError(t, err)
	require.Len(t, first, 4) // 2 watchers x 2 due offsets
	for _, n := range first {
		require.True(t, n.IsSent)
	}

	// A second sweep over the same due-set delivers nothing.
	second, err := scheduler.SweepDue(ctx, sweepTime)
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestSweepDue_OnlyDueNotifications(t *testing.T) {
	db := store.NewMemory()
	now := time.Now().UTC()
	seedAuction(db, "auction-1", now.Add(20*time.Hour), "user-1")

	scheduler := NewScheduler(db)
	ctx := context.Background()
	require.NoError(t, scheduler.ScheduleForAuction(ctx, "auction-1"))

	// 12h reminder triggers at end-12h = now+8h; sweep at now+9h.
	due, err := scheduler.SweepDue(ctx, now.Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, types.NotifyEnding12h, due[0].Type)
}

func TestScheduleOutcome(t *testing.T) {
	db := store.NewMemory()
	now := time.Now().UTC()
	winner := "user-1"
	db.AddAuction(types.Auction{
		ID:              "auction-1",
		SellerID:        "seller-1",
		EndDate:         now.Add(-time.Minute),
		CurrentBid:      9000,
		CurrentBidderID: &winner,
		Status:          types.StatusSold,
	})
	db.AddFavorite(types.Favorite{UserID: "user-1", AuctionID: "auction-1"})
	db.AddFavorite(types.Favorite{UserID: "user-2", AuctionID: "auction-1"})

	scheduler := NewScheduler(db)
	ctx := context.Background()
	auction, err := db.GetAuctionByID(ctx, "auction-1")
	require.NoError(t, err)
	require.NoError(t, scheduler.ScheduleOutcome(ctx, auction))

	won, err := db.ListNotificationsForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, won, 1)
	require.Equal(t, types.NotifyAuctionWon, won[0].Type)

	watched, err := db.ListNotificationsForUser(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, watched, 1)
	require.Equal(t, types.NotifyAuctionEnded, watched[0].Type)

	// Outcome notifications are immediately due.
	due, err := scheduler.SweepDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 2)
}
