package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	fetchBusinessSQL = `SELECT
        b.id,
        b.name,
        b.owner_id,
        COALESCE(u.email, ''),
        b.created_at
    FROM businesses b
    LEFT JOIN users u ON u.id = b.owner_id
    WHERE b.id = $1;`

	listBusinessesSQL = `SELECT
        b.id,
        b.name,
        b.owner_id,
        COALESCE(u.email, ''),
        b.created_at
    FROM businesses b
    LEFT JOIN users u ON u.id = b.owner_id
    WHERE ($1 = 0 OR b.owner_id = $1)
    ORDER BY b.id;`

	fetchTransactionsSQL = `SELECT
        id,
        business_id,
        amount,
        type,
        category,
        COALESCE(description, ''),
        created_at
    FROM transactions
    WHERE business_id = $1
      AND created_at >= $2
    ORDER BY created_at, id;`

	fetchInventorySQL = `SELECT
        id,
        business_id,
        name,
        COALESCE(sku, ''),
        quantity,
        reorder_level,
        price_per_unit
    FROM inventory
    WHERE business_id = $1
    ORDER BY id;`

	upsertUserSQL = `INSERT INTO users (id, email)
    VALUES ($1, $2)
    ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email;`

	upsertBusinessSQL = `INSERT INTO businesses (id, name, owner_id, created_at)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (id) DO UPDATE
    SET name       = EXCLUDED.name,
        owner_id   = EXCLUDED.owner_id,
        created_at = EXCLUDED.created_at;`

	insertTransactionSQL = `INSERT INTO transactions (
        business_id,
        amount,
        type,
        category,
        description,
        created_at
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	insertInventorySQL = `INSERT INTO inventory (
        business_id,
        name,
        sku,
        quantity,
        reorder_level,
        price_per_unit
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	insertCreditScoreSQL = `INSERT INTO credit_scores (
        id,
        business_id,
        user_id,
        revenue_consistency_score,
        volatility_index,
        expense_ratio,
        cash_buffer_ratio,
        debt_coverage_capacity,
        inventory_health_score,
        business_age_score,
        transaction_volume_score,
        smartpesa_score,
        metrics_json,
        calculation_date,
        valid_until
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    );`

	creditScoreColumns = `
        id,
        business_id,
        user_id,
        revenue_consistency_score,
        volatility_index,
        expense_ratio,
        cash_buffer_ratio,
        debt_coverage_capacity,
        inventory_health_score,
        business_age_score,
        transaction_volume_score,
        smartpesa_score,
        metrics_json,
        calculation_date,
        valid_until`

	latestValidCreditScoreSQL = `SELECT` + creditScoreColumns + `
    FROM credit_scores
    WHERE business_id = $1
      AND valid_until > $2
    ORDER BY calculation_date DESC
    LIMIT 1;`

	latestCreditScoreSQL = `SELECT` + creditScoreColumns + `
    FROM credit_scores
    WHERE business_id = $1
    ORDER BY calculation_date DESC
    LIMIT 1;`

	listCreditScoresSQL = `SELECT` + creditScoreColumns + `
    FROM credit_scores
    WHERE business_id = $1
    ORDER BY calculation_date DESC
    LIMIT $2;`

	listExpiredScoresSQL = `SELECT DISTINCT ON (business_id)` + creditScoreColumns + `
    FROM credit_scores
    ORDER BY business_id, calculation_date DESC;`

	listScoredBusinessesSQL = `SELECT
        b.id,
        b.name,
        COALESCE(u.email, ''),
        s.smartpesa_score,
        s.calculation_date,
        s.valid_until
    FROM businesses b
    JOIN LATERAL (
        SELECT smartpesa_score, calculation_date, valid_until
        FROM credit_scores
        WHERE business_id = b.id
          AND valid_until > $1
        ORDER BY calculation_date DESC
        LIMIT 1
    ) s ON TRUE
    LEFT JOIN users u ON u.id = b.owner_id
    WHERE ($2 = 0 OR s.smartpesa_score >= $2)
      AND ($3 = 0 OR s.smartpesa_score <= $3)
    ORDER BY b.id
    LIMIT $4;`

	insertRiskAlertSQL = `INSERT INTO risk_alerts (
        business_id,
        alert_day,
        level,
        risk_score,
        messages
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (business_id, alert_day) DO UPDATE
    SET level      = EXCLUDED.level,
        risk_score = EXCLUDED.risk_score,
        messages   = EXCLUDED.messages
    RETURNING id, business_id, alert_day, level, risk_score, messages, created_at;`

	lastRiskAlertSQL = `SELECT
        id,
        business_id,
        alert_day,
        level,
        risk_score,
        messages,
        created_at
    FROM risk_alerts
    WHERE business_id = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	deleteRiskAlertsBeforeSQL = `DELETE FROM risk_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RecordReader is the read side consumed by the forecasting and scoring engines.
type RecordReader interface {
	FetchTransactions(ctx context.Context, businessID int64, since time.Time) ([]Transaction, error)
	FetchInventory(ctx context.Context, businessID int64) ([]InventoryItem, error)
	FetchBusiness(ctx context.Context, businessID int64) (Business, error)
	ListBusinesses(ctx context.Context, ownerID int64) ([]Business, error)
}

// RecordWriter ingests records; used by seeding and tests.
type RecordWriter interface {
	UpsertBusiness(ctx context.Context, business Business) error
	InsertTransactions(ctx context.Context, txs []Transaction) error
	InsertInventory(ctx context.Context, items []InventoryItem) error
}

// CreditScoreStore defines persistence of credit score records.
type CreditScoreStore interface {
	InsertCreditScore(ctx context.Context, score CreditScore) error
	LatestValidCreditScore(ctx context.Context, businessID int64, at time.Time) (CreditScore, error)
	LatestCreditScore(ctx context.Context, businessID int64) (CreditScore, error)
	ListCreditScores(ctx context.Context, businessID int64, limit int) ([]CreditScore, error)
	ListExpiredScores(ctx context.Context, at time.Time) ([]CreditScore, error)
	ListScoredBusinesses(ctx context.Context, filter ScoreFilter) ([]ScoredBusiness, error)
}

// RiskAlertStore defines operations for risk alert auditing.
type RiskAlertStore interface {
	InsertRiskAlert(ctx context.Context, alert RiskAlertRecord) (RiskAlertRecord, error)
	LastRiskAlert(ctx context.Context, businessID int64) (RiskAlertRecord, error)
	DeleteRiskAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates PostgreSQL access to business records, credit scores and alerts.
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
		// best effort; the session lock is dropped with the connection anyway
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

// FetchBusiness loads a business together with its owner's email.
func (s *Store) FetchBusiness(ctx context.Context, businessID int64) (Business, error) {
	pool, err := s.getPool()
	if err != nil {
		return Business{}, err
	}

	var b Business
	scanErr := pool.QueryRow(ctx, fetchBusinessSQL, businessID).Scan(&b.ID, &b.Name, &b.OwnerID, &b.OwnerEmail, &b.CreatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Business{}, ErrNotFound
	}
	if scanErr != nil {
		return Business{}, fmt.Errorf("fetch business: %w", scanErr)
	}
	return b, nil
}

// ListBusinesses lists businesses of an owner, or every business when ownerID is zero.
func (s *Store) ListBusinesses(ctx context.Context, ownerID int64) ([]Business, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBusinessesSQL, ownerID)
	if queryErr != nil {
		return nil, fmt.Errorf("list businesses: %w", queryErr)
	}
	defer rows.Close()

	businesses := make([]Business, 0)
	for rows.Next() {
		var b Business
		if err := rows.Scan(&b.ID, &b.Name, &b.OwnerID, &b.OwnerEmail, &b.CreatedAt); err != nil {
			return nil, err
		}
		businesses = append(businesses, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return businesses, nil
}

// FetchTransactions lists a business's transactions created at or after since, oldest first.
func (s *Store) FetchTransactions(ctx context.Context, businessID int64, since time.Time) ([]Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fetchTransactionsSQL, businessID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("fetch transactions: %w", queryErr)
	}
	defer rows.Close()

	txs := make([]Transaction, 0)
	for rows.Next() {
		var (
			tx        Transaction
			amountStr string
			kind      string
		)
		if err := rows.Scan(&tx.ID, &tx.BusinessID, &amountStr, &kind, &tx.Category, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		tx.Kind = TransactionKind(kind)
		txs = append(txs, tx)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return txs, nil
}

// FetchInventory lists the inventory lines of a business.
func (s *Store) FetchInventory(ctx context.Context, businessID int64) ([]InventoryItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fetchInventorySQL, businessID)
	if queryErr != nil {
		return nil, fmt.Errorf("fetch inventory: %w", queryErr)
	}
	defer rows.Close()

	items := make([]InventoryItem, 0)
	for rows.Next() {
		var (
			item     InventoryItem
			quantity string
			reorder  string
			price    string
		)
		if err := rows.Scan(&item.ID, &item.BusinessID, &item.Name, &item.SKU, &quantity, &reorder, &price); err != nil {
			return nil, err
		}
		if item.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if item.ReorderLevel, err = decimal.NewFromString(reorder); err != nil {
			return nil, fmt.Errorf("parse reorder level: %w", err)
		}
		if item.PricePerUnit, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price per unit: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// UpsertBusiness persists a business and its owner.
func (s *Store) UpsertBusiness(ctx context.Context, business Business) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(upsertUserSQL, business.OwnerID, business.OwnerEmail)
	batch.Queue(upsertBusinessSQL, business.ID, business.Name, business.OwnerID, business.CreatedAt)
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert business: %w", err)
	}
	return nil
}

// InsertTransactions appends transactions in a single batch.
func (s *Store) InsertTransactions(ctx context.Context, txs []Transaction) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(insertTransactionSQL,
			tx.BusinessID,
			tx.Amount.String(),
			string(tx.Kind),
			tx.Category,
			tx.Description,
			tx.CreatedAt,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}

// InsertInventory appends inventory lines in a single batch.
func (s *Store) InsertInventory(ctx context.Context, items []InventoryItem) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(insertInventorySQL,
			item.BusinessID,
			item.Name,
			item.SKU,
			item.Quantity.String(),
			item.ReorderLevel.String(),
			item.PricePerUnit.String(),
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

// InsertCreditScore persists a credit score record. Records are never updated.
func (s *Store) InsertCreditScore(ctx context.Context, score CreditScore) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertCreditScoreSQL,
		score.ID,
		score.BusinessID,
		score.UserID,
		score.RevenueConsistency,
		score.VolatilityIndex,
		score.ExpenseRatio,
		score.CashBufferRatio,
		score.DebtCoverage,
		score.InventoryHealth,
		score.BusinessAge,
		score.TransactionVolume,
		score.Score,
		score.Metrics,
		score.CalculatedAt,
		score.ValidUntil,
	)
	if execErr != nil {
		return fmt.Errorf("insert credit score: %w", execErr)
	}
	return nil
}

// LatestValidCreditScore returns the newest score still valid at the given instant.
func (s *Store) LatestValidCreditScore(ctx context.Context, businessID int64, at time.Time) (CreditScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return CreditScore{}, err
	}
	return scanOneCreditScore(pool.QueryRow(ctx, latestValidCreditScoreSQL, businessID, at))
}

// LatestCreditScore returns the newest score regardless of validity.
func (s *Store) LatestCreditScore(ctx context.Context, businessID int64) (CreditScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return CreditScore{}, err
	}
	return scanOneCreditScore(pool.QueryRow(ctx, latestCreditScoreSQL, businessID))
}

// ListCreditScores lists score history, newest first.
func (s *Store) ListCreditScores(ctx context.Context, businessID int64, limit int) ([]CreditScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCreditScoresSQL, businessID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list credit scores: %w", queryErr)
	}
	defer rows.Close()

	return collectCreditScores(rows, limit)
}

// ListExpiredScores returns the latest score of every business whose latest score expired at or before at.
func (s *Store) ListExpiredScores(ctx context.Context, at time.Time) ([]CreditScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listExpiredScoresSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list expired scores: %w", queryErr)
	}
	defer rows.Close()

	latest, err := collectCreditScores(rows, 0)
	if err != nil {
		return nil, err
	}

	expired := make([]CreditScore, 0, len(latest))
	for _, score := range latest {
		if !score.IsValid(at) {
			expired = append(expired, score)
		}
	}
	return expired, nil
}

// ListScoredBusinesses lists businesses with a currently valid score inside the filter bounds.
func (s *Store) ListScoredBusinesses(ctx context.Context, filter ScoreFilter) ([]ScoredBusiness, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, queryErr := pool.Query(ctx, listScoredBusinessesSQL, filter.ValidAt, filter.MinScore, filter.MaxScore, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list scored businesses: %w", queryErr)
	}
	defer rows.Close()

	results := make([]ScoredBusiness, 0, limit)
	for rows.Next() {
		var sb ScoredBusiness
		if err := rows.Scan(&sb.BusinessID, &sb.BusinessName, &sb.OwnerEmail, &sb.Score, &sb.CalculatedAt, &sb.ValidUntil); err != nil {
			return nil, err
		}
		results = append(results, sb)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

// InsertRiskAlert persists a risk alert, keeping one row per business and day.
func (s *Store) InsertRiskAlert(ctx context.Context, alert RiskAlertRecord) (RiskAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RiskAlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertRiskAlertSQL,
		alert.BusinessID,
		alert.Day,
		alert.Level,
		alert.RiskScore,
		alert.Messages,
	)

	var rec RiskAlertRecord
	if scanErr := row.Scan(&rec.ID, &rec.BusinessID, &rec.Day, &rec.Level, &rec.RiskScore, &rec.Messages, &rec.CreatedAt); scanErr != nil {
		return RiskAlertRecord{}, fmt.Errorf("insert risk alert: %w", scanErr)
	}
	return rec, nil
}

// LastRiskAlert returns the most recent alert for a business.
func (s *Store) LastRiskAlert(ctx context.Context, businessID int64) (RiskAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RiskAlertRecord{}, err
	}

	var rec RiskAlertRecord
	scanErr := pool.QueryRow(ctx, lastRiskAlertSQL, businessID).
		Scan(&rec.ID, &rec.BusinessID, &rec.Day, &rec.Level, &rec.RiskScore, &rec.Messages, &rec.CreatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return RiskAlertRecord{}, ErrNotFound
	}
	if scanErr != nil {
		return RiskAlertRecord{}, fmt.Errorf("last risk alert: %w", scanErr)
	}
	return rec, nil
}

// DeleteRiskAlertsBefore deletes historical alerts.
func (s *Store) DeleteRiskAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRiskAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete risk alerts before: %w", execErr)
	}
	return nil
}

func scanOneCreditScore(row pgx.Row) (CreditScore, error) {
	score, err := scanCreditScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CreditScore{}, ErrNotFound
	}
	if err != nil {
		return CreditScore{}, fmt.Errorf("scan credit score: %w", err)
	}
	return score, nil
}

func collectCreditScores(rows pgx.Rows, capacity int) ([]CreditScore, error) {
	scores := make([]CreditScore, 0, capacity)
	for rows.Next() {
		score, err := scanCreditScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return scores, nil
}

func scanCreditScore(row pgx.Row) (CreditScore, error) {
	var (
		score   CreditScore
		metrics map[string]float64
		userID  sql.NullInt64
		id      uuid.UUID
	)

	if err := row.Scan(
		&id,
		&score.BusinessID,
		&userID,
		&score.RevenueConsistency,
		&score.VolatilityIndex,
		&score.ExpenseRatio,
		&score.CashBufferRatio,
		&score.DebtCoverage,
		&score.InventoryHealth,
		&score.BusinessAge,
		&score.TransactionVolume,
		&score.Score,
		&metrics,
		&score.CalculatedAt,
		&score.ValidUntil,
	); err != nil {
		return CreditScore{}, err
	}

	score.ID = id
	if userID.Valid {
		score.UserID = userID.Int64
	}
	score.Metrics = metrics
	return score, nil
}
