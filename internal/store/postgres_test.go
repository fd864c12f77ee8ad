package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/motorbid/auction-engine/pkg/types"
)

const schema = `
CREATE TABLE public."User" (
    "id" TEXT PRIMARY KEY,
    "name" TEXT NOT NULL,
    "email" TEXT NOT NULL UNIQUE,
    "role" TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE public."Auctions" (
    "id" TEXT PRIMARY KEY,
    "vehicleId" TEXT NOT NULL,
    "sellerId" TEXT NOT NULL,
    "startDate" TIMESTAMPTZ NOT NULL,
    "endDate" TIMESTAMPTZ NOT NULL,
    "startingPrice" INTEGER NOT NULL,
    "reservePrice" INTEGER,
    "currentBid" INTEGER NOT NULL DEFAULT 0,
    "bidIncrement" INTEGER NOT NULL DEFAULT 0,
    "currentBidderId" TEXT,
    "biddersCount" INTEGER NOT NULL DEFAULT 0,
    "winningBidId" TEXT,
    "viewCount" INTEGER NOT NULL DEFAULT 0,
    "watchCount" INTEGER NOT NULL DEFAULT 0,
    "status" TEXT NOT NULL,
    "createdAt" TIMESTAMPTZ NOT NULL DEFAULT now(),
    "updatedAt" TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE public."Bid" (
    "id" TEXT PRIMARY KEY,
    "auctionId" TEXT NOT NULL REFERENCES public."Auctions"("id"),
    "bidderId" TEXT NOT NULL,
    "amount" INTEGER NOT NULL,
    "isWinning" BOOLEAN NOT NULL DEFAULT false,
    "createdAt" TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE public."Favorites" (
    "userId" TEXT NOT NULL,
    "auctionId" TEXT NOT NULL,
    "createdAt" TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY ("userId", "auctionId")
);

CREATE TABLE public."Notifications" (
    "id" TEXT PRIMARY KEY,
    "userId" TEXT NOT NULL,
    "auctionId" TEXT NOT NULL,
    "type" TEXT NOT NULL,
    "triggerTime" TIMESTAMPTZ NOT NULL,
    "title" TEXT NOT NULL,
    "message" TEXT NOT NULL,
    "isSent" BOOLEAN NOT NULL DEFAULT false,
    "isRead" BOOLEAN NOT NULL DEFAULT false,
    "createdAt" TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// setupPostgres starts a disposable Postgres, applies the schema, and
// returns the store plus a raw connection for seeding rows the engine never
// writes itself (users, auctions, favorites are owned by the CRUD layer).
func setupPostgres(t *testing.T) (Store, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("auctions"),
		tcpostgres.WithUsername("auctioneer"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	raw, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	_, err = raw.ExecContext(ctx, schema)
	require.NoError(t, err)

	st, err := Open(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st, raw
}

func seedAuctionRow(t *testing.T, db *sql.DB, auction types.Auction) {
	t.Helper()
	_, err := db.Exec(`
        INSERT INTO public."Auctions"
            ("id", "vehicleId", "sellerId", "startDate", "endDate", "startingPrice", "reservePrice",
             "currentBid", "bidIncrement", "status")
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		auction.ID, auction.VehicleID, auction.SellerID, auction.StartDate, auction.EndDate,
		auction.StartingPrice, auction.ReservePrice, auction.CurrentBid, auction.BidIncrement, auction.Status,
	)
	require.NoError(t, err)
}

func TestPostgres_AuctionRoundTrip(t *testing.T) {
	st, raw := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAuctionRow(t, raw, types.Auction{
		ID:            "auction-1",
		VehicleID:     "vehicle-1",
		SellerID:      "seller-1",
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(time.Hour),
		StartingPrice: 65000,
		CurrentBid:    65000,
		Status:        types.StatusActive,
	})

	auction, err := st.GetAuctionByID(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, "vehicle-1", auction.VehicleID)
	require.Equal(t, types.StatusActive, auction.Status)
	require.Equal(t, 65000, auction.CurrentBid)

	_, err = st.GetAuctionByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	open, err := st.ListOpenAuctions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestPostgres_BidTransaction(t *testing.T) {
	st, raw := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAuctionRow(t, raw, types.Auction{
		ID: "auction-1", VehicleID: "vehicle-1", SellerID: "seller-1",
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
		StartingPrice: 1000, CurrentBid: 1000, Status: types.StatusActive,
	})

	place := func(bidID, bidderID string, amount int) {
		tx, err := st.BeginBidTx(ctx)
		require.NoError(t, err)
		auction, err := tx.GetAuctionForUpdate(ctx, "auction-1")
		require.NoError(t, err)
		require.NoError(t, tx.ClearWinningBid(ctx, "auction-1"))
		bid, err := tx.CreateBid(ctx, types.Bid{
			ID: bidID, AuctionID: "auction-1", BidderID: bidderID,
			Amount: amount, IsWinning: true, CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		auction.CurrentBid = amount
		auction.CurrentBidderID = &bidderID
		auction.BiddersCount++
		auction.WinningBidID = &bid.ID
		_, err = tx.UpdateAuctionBid(ctx, auction)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	place("bid-1", "buyer-1", 2000)
	place("bid-2", "buyer-2", 3000)

	auction, err := st.GetAuctionByID(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, 3000, auction.CurrentBid)
	require.Equal(t, 2, auction.BiddersCount)
	require.Equal(t, "bid-2", *auction.WinningBidID)

	// The winning flag moved to the most recent bid.
	winning, err := st.GetWinningBid(ctx, "auction-1")
	require.NoError(t, err)
	require.Equal(t, "bid-2", winning.ID)

	bids, err := st.GetBidsForAuction(ctx, "auction-1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.False(t, bids[0].IsWinning)
	require.True(t, bids[1].IsWinning)
}

func TestPostgres_StatusGuardAndNotifications(t *testing.T) {
	st, raw := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedAuctionRow(t, raw, types.Auction{
		ID: "auction-1", VehicleID: "vehicle-1", SellerID: "seller-1",
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
		StartingPrice: 1000, CurrentBid: 1000, Status: types.StatusScheduled,
	})

	updated, err := st.UpdateAuctionStatus(ctx, "auction-1", types.StatusScheduled, types.StatusActive, nil)
	require.NoError(t, err)
	require.Equal(t, types.StatusActive, updated.Status)

	_, err = st.UpdateAuctionStatus(ctx, "auction-1", types.StatusScheduled, types.StatusActive, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = raw.Exec(`INSERT INTO public."Favorites" ("userId", "auctionId") VALUES ('user-1', 'auction-1')`)
	require.NoError(t, err)
	watchers, err := st.GetWatchersForAuction(ctx, "auction-1")
	require.NoError(t, err)
	require.Len(t, watchers, 1)

	notification := types.Notification{
		ID: "n-1", UserID: "user-1", AuctionID: "auction-1",
		Type: types.NotifyEnding1h, TriggerTime: now.Add(-time.Minute),
		Title: "Auction ending soon", Message: "ends in 1 hour", CreatedAt: now,
	}
	require.NoError(t, st.CreateNotifications(ctx, []types.Notification{notification}))

	due, err := st.ListDueNotifications(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	sent, err := st.MarkNotificationSent(ctx, "n-1")
	require.NoError(t, err)
	require.True(t, sent)
	sent, err = st.MarkNotificationSent(ctx, "n-1")
	require.NoError(t, err)
	require.False(t, sent, "isSent compare-and-set claims a notification once")

	due, err = st.ListDueNotifications(ctx, now)
	require.NoError(t, err)
	require.Empty(t, due)
}
