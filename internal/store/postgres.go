package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/motorbid/auction-engine/configs"
	"github.com/motorbid/auction-engine/pkg/types"
)

type postgres struct {
	db *sql.DB
}

// NewPostgres opens the Postgres-backed store using the pgx stdlib driver.
func NewPostgres(cfg *configs.Config) (Store, error) {
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	return Open(connStr)
}

// Open connects to the given Postgres DSN.
func Open(connStr string) (Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return &postgres{db: db}, nil
}

// wrapErr maps driver errors onto the store sentinels.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure / deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%s: %w", msg, ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *postgres) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Error("Database ping failed", "error", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

func (s *postgres) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

func (s *postgres) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	var user types.User
	err := s.db.QueryRowContext(ctx,
		`SELECT "id", "name", "email", "role" FROM public."User" WHERE "email" = $1`,
		email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Role)
	if err != nil {
		return types.User{}, wrapErr(err, "error getting user by email")
	}
	return user, nil
}

const auctionColumns = `
    "id",
    "vehicleId",
    "sellerId",
    "startDate",
    "endDate",
    "startingPrice",
    "reservePrice",
    "currentBid",
    "bidIncrement",
    "currentBidderId",
    "biddersCount",
    "winningBidId",
    "viewCount",
    "watchCount",
    "status",
    "createdAt",
    "updatedAt"`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var auction types.Auction
	err := row.Scan(
		&auction.ID,
		&auction.VehicleID,
		&auction.SellerID,
		&auction.StartDate,
		&auction.EndDate,
		&auction.StartingPrice,
		&auction.ReservePrice,
		&auction.CurrentBid,
		&auction.BidIncrement,
		&auction.CurrentBidderID,
		&auction.BiddersCount,
		&auction.WinningBidID,
		&auction.ViewCount,
		&auction.WatchCount,
		&auction.Status,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	return auction, err
}

func (s *postgres) GetAuctionByID(ctx context.Context, auctionID string) (types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions" WHERE "id" = $1`
	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		return types.Auction{}, wrapErr(err, "error getting auction by id")
	}
	return auction, nil
}

func (s *postgres) queryAuctions(ctx context.Context, query string, args ...any) ([]types.Auction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "error querying auctions")
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}
	return auctions, nil
}

func (s *postgres) ListOpenAuctions(ctx context.Context) ([]types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions" WHERE "status" IN ($1, $2) ORDER BY "endDate" ASC`
	return s.queryAuctions(ctx, query, types.StatusScheduled, types.StatusActive)
}

func (s *postgres) ListCurrentAuctions(ctx context.Context) ([]types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions" WHERE "status" = $1 ORDER BY "endDate" ASC`
	return s.queryAuctions(ctx, query, types.StatusActive)
}

func (s *postgres) UpdateAuctionStatus(ctx context.Context, auctionID string, from, to types.AuctionStatus, winningBidID *string) (types.Auction, error) {
	query := `
        UPDATE public."Auctions"
        SET "status" = $1, "winningBidId" = COALESCE($2, "winningBidId"), "updatedAt" = now()
        WHERE "id" = $3 AND "status" = $4
        RETURNING ` + auctionColumns
	auction, err := scanAuction(s.db.QueryRowContext(ctx, query, to, winningBidID, auctionID, from))
	if err != nil {
		return types.Auction{}, wrapErr(err, "error updating auction status")
	}
	log.Debugf("Auction %s transitioned from %s to %s", auctionID, from, to)
	return auction, nil
}

func (s *postgres) GetBidsForAuction(ctx context.Context, auctionID string) ([]types.Bid, error) {
	query := `
        SELECT "id", "auctionId", "bidderId", "amount", "isWinning", "createdAt"
        FROM public."Bid"
        WHERE "auctionId" = $1
        ORDER BY "createdAt" ASC`
	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, wrapErr(err, "error getting bids for auction")
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var bid types.Bid
		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.IsWinning, &bid.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}

func (s *postgres) GetWinningBid(ctx context.Context, auctionID string) (types.Bid, error) {
	var bid types.Bid
	query := `
        SELECT "id", "auctionId", "bidderId", "amount", "isWinning", "createdAt"
        FROM public."Bid"
        WHERE "auctionId" = $1 AND "isWinning" = true`
	err := s.db.QueryRowContext(ctx, query, auctionID).Scan(
		&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.IsWinning, &bid.CreatedAt,
	)
	if err != nil {
		return types.Bid{}, wrapErr(err, "error getting winning bid")
	}
	return bid, nil
}

// postgresBidTx runs the admission unit inside a serializable transaction;
// the auction row lock from GetAuctionForUpdate serializes admissions on the
// same auction while leaving other auctions untouched.
type postgresBidTx struct {
	tx *sql.Tx
}

func (s *postgres) BeginBidTx(ctx context.Context) (BidTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapErr(err, "error starting transaction")
	}
	return &postgresBidTx{tx: tx}, nil
}

func (t *postgresBidTx) GetAuctionForUpdate(ctx context.Context, auctionID string) (types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions" WHERE "id" = $1 FOR UPDATE`
	auction, err := scanAuction(t.tx.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		return types.Auction{}, wrapErr(err, "error getting auction for update")
	}
	return auction, nil
}

func (t *postgresBidTx) ClearWinningBid(ctx context.Context, auctionID string) error {
	query := `UPDATE public."Bid" SET "isWinning" = false WHERE "auctionId" = $1 AND "isWinning" = true`
	if _, err := t.tx.ExecContext(ctx, query, auctionID); err != nil {
		return wrapErr(err, "error clearing winning bid")
	}
	return nil
}

func (t *postgresBidTx) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	var returnedBid types.Bid
	query := `
        INSERT INTO public."Bid" ("id", "auctionId", "bidderId", "amount", "isWinning", "createdAt")
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING "id", "auctionId", "bidderId", "amount", "isWinning", "createdAt"`
	err := t.tx.QueryRowContext(ctx, query, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.IsWinning, bid.CreatedAt).Scan(
		&returnedBid.ID,
		&returnedBid.AuctionID,
		&returnedBid.BidderID,
		&returnedBid.Amount,
		&returnedBid.IsWinning,
		&returnedBid.CreatedAt,
	)
	if err != nil {
		return types.Bid{}, wrapErr(err, "error creating bid")
	}
	return returnedBid, nil
}

func (t *postgresBidTx) UpdateAuctionBid(ctx context.Context, auction types.Auction) (types.Auction, error) {
	query := `
        UPDATE public."Auctions"
        SET "currentBid" = $1, "currentBidderId" = $2, "biddersCount" = $3, "winningBidId" = $4, "updatedAt" = now()
        WHERE "id" = $5
        RETURNING ` + auctionColumns
	updated, err := scanAuction(t.tx.QueryRowContext(ctx, query,
		auction.CurrentBid,
		auction.CurrentBidderID,
		auction.BiddersCount,
		auction.WinningBidID,
		auction.ID,
	))
	if err != nil {
		return types.Auction{}, wrapErr(err, "error updating auction bid")
	}
	log.Debugf("Auction %s updated with new bid: %v", updated.ID, updated.CurrentBid)
	return updated, nil
}

func (t *postgresBidTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return wrapErr(err, "error committing bid transaction")
	}
	return nil
}

func (t *postgresBidTx) Rollback() error {
	return t.tx.Rollback()
}

func (s *postgres) GetWatchersForAuction(ctx context.Context, auctionID string) ([]types.Favorite, error) {
	query := `SELECT "userId", "auctionId", "createdAt" FROM public."Favorites" WHERE "auctionId" = $1`
	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, wrapErr(err, "error getting watchers for auction")
	}
	defer rows.Close()

	var watchers []types.Favorite
	for rows.Next() {
		var favorite types.Favorite
		if err := rows.Scan(&favorite.UserID, &favorite.AuctionID, &favorite.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning favorite: %w", err)
		}
		watchers = append(watchers, favorite)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over favorites: %w", err)
	}
	return watchers, nil
}

const notificationColumns = `"id", "userId", "auctionId", "type", "triggerTime", "title", "message", "isSent", "isRead", "createdAt"`

func scanNotification(row rowScanner) (types.Notification, error) {
	var n types.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.AuctionID,
		&n.Type,
		&n.TriggerTime,
		&n.Title,
		&n.Message,
		&n.IsSent,
		&n.IsRead,
		&n.CreatedAt,
	)
	return n, err
}

func (s *postgres) CreateNotifications(ctx context.Context, notifications []types.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err, "error starting notification transaction")
	}
	defer tx.Rollback()

	query := `
        INSERT INTO public."Notifications" (` + notificationColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, n := range notifications {
		_, err := tx.ExecContext(ctx, query,
			n.ID, n.UserID, n.AuctionID, n.Type, n.TriggerTime, n.Title, n.Message, n.IsSent, n.IsRead, n.CreatedAt,
		)
		if err != nil {
			return wrapErr(err, "error creating notification")
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(err, "error committing notifications")
	}
	return nil
}

func (s *postgres) ListDueNotifications(ctx context.Context, now time.Time) ([]types.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM public."Notifications" WHERE "triggerTime" <= $1 AND "isSent" = false ORDER BY "triggerTime" ASC`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, wrapErr(err, "error listing due notifications")
	}
	defer rows.Close()

	var notifications []types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationSent is a compare-and-set on isSent so overlapping sweeps
// deliver each notification at most once.
func (s *postgres) MarkNotificationSent(ctx context.Context, notificationID string) (bool, error) {
	query := `UPDATE public."Notifications" SET "isSent" = true WHERE "id" = $1 AND "isSent" = false`
	res, err := s.db.ExecContext(ctx, query, notificationID)
	if err != nil {
		return false, wrapErr(err, "error marking notification sent")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *postgres) ListNotificationsForUser(ctx context.Context, userID string) ([]types.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM public."Notifications" WHERE "userId" = $1 ORDER BY "triggerTime" DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrapErr(err, "error listing notifications for user")
	}
	defer rows.Close()

	var notifications []types.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over notifications: %w", err)
	}
	return notifications, nil
}

func (s *postgres) MarkNotificationRead(ctx context.Context, notificationID string) error {
	query := `UPDATE public."Notifications" SET "isRead" = true WHERE "id" = $1`
	if _, err := s.db.ExecContext(ctx, query, notificationID); err != nil {
		return wrapErr(err, "error marking notification read")
	}
	return nil
}
