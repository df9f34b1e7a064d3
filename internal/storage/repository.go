package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoRounds indicates no vote round has been persisted yet.
	ErrNoRounds = errors.New("storage: no vote rounds recorded")
)

const (
	upsertVoteRoundSQL = `INSERT INTO vote_rounds (
        round,
        cycle_id,
        height,
        price_string,
        salt,
        hash,
        hash_matched,
        vote_tx_hash,
        vote_status,
        vote_attempts,
        prevote_tx_hash,
        prevote_status,
        prevote_attempts,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (round) DO UPDATE
    SET
        cycle_id         = EXCLUDED.cycle_id,
        height           = EXCLUDED.height,
        price_string     = EXCLUDED.price_string,
        salt             = EXCLUDED.salt,
        hash             = EXCLUDED.hash,
        hash_matched     = EXCLUDED.hash_matched,
        vote_tx_hash     = EXCLUDED.vote_tx_hash,
        vote_status      = EXCLUDED.vote_status,
        vote_attempts    = EXCLUDED.vote_attempts,
        prevote_tx_hash  = EXCLUDED.prevote_tx_hash,
        prevote_status   = EXCLUDED.prevote_status,
        prevote_attempts = EXCLUDED.prevote_attempts,
        error            = EXCLUDED.error;`

	deletePricePointsSQL = `DELETE FROM price_points WHERE round = $1;`

	insertPricePointSQL = `INSERT INTO price_points (round, denom, price, market_usd)
    VALUES ($1,$2,$3,$4);`

	voteRoundColumns = `round,
        cycle_id::text,
        height,
        price_string,
        salt,
        hash,
        hash_matched,
        vote_tx_hash,
        vote_status,
        vote_attempts,
        prevote_tx_hash,
        prevote_status,
        prevote_attempts,
        error,
        created_at`

	listRoundsBetweenSQL = `SELECT ` + voteRoundColumns + `
    FROM vote_rounds
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY round;`

	listRecentRoundsSQL = `SELECT ` + voteRoundColumns + `
    FROM vote_rounds
    ORDER BY round DESC
    LIMIT $1;`

	latestRoundSQL = `SELECT ` + voteRoundColumns + `
    FROM vote_rounds
    ORDER BY round DESC
    LIMIT 1;`

	countRoundsSQL = `SELECT COUNT(*) FROM vote_rounds;`

	listPricePointsSQL = `SELECT
        round,
        denom,
        price::text,
        market_usd::text,
        created_at
    FROM price_points
    WHERE round >= $1
      AND round <= $2
    ORDER BY round, denom;`

	insertAlertSQL = `INSERT INTO alerts (
        round,
        kind,
        message,
        channels
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, round, kind, message, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        round,
        kind,
        message,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RoundStore defines operations for vote round persistence.
type RoundStore interface {
	SaveRound(ctx context.Context, round VoteRound, points []PricePoint) error
	ListRoundsBetween(ctx context.Context, from, to time.Time) ([]VoteRound, error)
	ListRecentRounds(ctx context.Context, limit int) ([]VoteRound, error)
	LatestRound(ctx context.Context) (VoteRound, error)
	ListPricePoints(ctx context.Context, fromRound, toRound uint64) ([]PricePoint, error)
	CountRounds(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to vote rounds, price points and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the session lock also ends when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveRound persists a round and replaces its price points atomically.
func (s *Store) SaveRound(ctx context.Context, round VoteRound, points []PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertVoteRoundSQL,
			int64(round.Round),
			round.CycleID,
			round.Height,
			round.PriceString,
			round.Salt,
			round.Hash,
			round.HashMatched,
			nullableString(round.VoteTxHash),
			round.VoteStatus,
			round.VoteAttempts,
			nullableString(round.PrevoteTxHash),
			round.PrevoteStatus,
			round.PrevoteAttempts,
			nullableString(round.Error),
		); err != nil {
			return fmt.Errorf("upsert vote round: %w", err)
		}

		batch := &pgx.Batch{}
		batch.Queue(deletePricePointsSQL, int64(round.Round))
		for _, p := range points {
			batch.Queue(insertPricePointSQL, int64(p.Round), p.Denom, p.Price.String(), p.MarketUSD.String())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert price points: %w", err)
		}
		return nil
	})
}

// ListRoundsBetween lists rounds recorded within a time window.
func (s *Store) ListRoundsBetween(ctx context.Context, from, to time.Time) ([]VoteRound, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRoundsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list rounds between: %w", queryErr)
	}
	defer rows.Close()

	return collectRounds(rows, 0)
}

// ListRecentRounds lists the most recent rounds ordered by descending round.
func (s *Store) ListRecentRounds(ctx context.Context, limit int) ([]VoteRound, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRoundsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rounds: %w", queryErr)
	}
	defer rows.Close()

	return collectRounds(rows, limit)
}

// LatestRound returns the highest recorded round or ErrNoRounds.
func (s *Store) LatestRound(ctx context.Context) (VoteRound, error) {
	pool, err := s.getPool()
	if err != nil {
		return VoteRound{}, err
	}

	rows, queryErr := pool.Query(ctx, latestRoundSQL)
	if queryErr != nil {
		return VoteRound{}, fmt.Errorf("latest round: %w", queryErr)
	}
	defer rows.Close()

	rounds, err := collectRounds(rows, 1)
	if err != nil {
		return VoteRound{}, err
	}
	if len(rounds) == 0 {
		return VoteRound{}, ErrNoRounds
	}
	return rounds[0], nil
}

// ListPricePoints lists submitted prices for rounds in [fromRound, toRound].
func (s *Store) ListPricePoints(ctx context.Context, fromRound, toRound uint64) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSQL, int64(fromRound), int64(toRound))
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var (
			round               int64
			p                   PricePoint
			priceStr, marketStr string
		)
		if err := rows.Scan(&round, &p.Denom, &priceStr, &marketStr, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Round = uint64(round)
		if p.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if p.MarketUSD, err = decimal.NewFromString(marketStr); err != nil {
			return nil, fmt.Errorf("parse market usd: %w", err)
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// CountRounds counts stored rounds.
func (s *Store) CountRounds(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRoundsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count rounds: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		int64(alert.Round),
		alert.Kind,
		alert.Message,
		alert.Channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec   AlertRecord
		round int64
	)
	if err := row.Scan(&rec.ID, &round, &rec.Kind, &rec.Message, &rec.Channels, &rec.CreatedAt); err != nil {
		return AlertRecord{}, err
	}
	rec.Round = uint64(round)
	return rec, nil
}

func collectRounds(rows pgx.Rows, capacity int) ([]VoteRound, error) {
	rounds := make([]VoteRound, 0, capacity)
	for rows.Next() {
		round, err := scanVoteRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rounds, nil
}

func scanVoteRound(rows pgx.Rows) (VoteRound, error) {
	var (
		round         int64
		vr            VoteRound
		voteTxHash    sql.NullString
		prevoteTxHash sql.NullString
		errMsg        sql.NullString
	)

	if err := rows.Scan(
		&round,
		&vr.CycleID,
		&vr.Height,
		&vr.PriceString,
		&vr.Salt,
		&vr.Hash,
		&vr.HashMatched,
		&voteTxHash,
		&vr.VoteStatus,
		&vr.VoteAttempts,
		&prevoteTxHash,
		&vr.PrevoteStatus,
		&vr.PrevoteAttempts,
		&errMsg,
		&vr.CreatedAt,
	); err != nil {
		return VoteRound{}, err
	}

	vr.Round = uint64(round)
	vr.VoteTxHash = fromNullString(voteTxHash)
	vr.PrevoteTxHash = fromNullString(prevoteTxHash)
	vr.Error = fromNullString(errMsg)
	return vr, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	value := ns.String
	return &value
}
