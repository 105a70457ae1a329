package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/config"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

const (
	upsertAccountSQL = `INSERT INTO accounts (
        address,
        collateral,
        debt,
        liq_threshold,
        last_synced_at,
        last_alerted_risk
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (address) DO UPDATE
    SET
        collateral        = EXCLUDED.collateral,
        debt              = EXCLUDED.debt,
        liq_threshold     = EXCLUDED.liq_threshold,
        last_synced_at    = EXCLUDED.last_synced_at,
        last_alerted_risk = EXCLUDED.last_alerted_risk;`

	deleteAccountSQL = `DELETE FROM accounts WHERE address = $1;`

	listAccountsSQL = `SELECT
        address,
        collateral,
        debt,
        liq_threshold,
        last_synced_at,
        last_alerted_risk
    FROM accounts
    ORDER BY address;`

	upsertCooldownSQL = `INSERT INTO cooldowns (address, dispatched_at)
    VALUES ($1,$2)
    ON CONFLICT (address) DO UPDATE
    SET dispatched_at = EXCLUDED.dispatched_at;`

	listCooldownsSQL = `SELECT address, dispatched_at FROM cooldowns;`

	pruneCooldownsSQL = `DELETE FROM cooldowns WHERE dispatched_at < $1;`

	insertDispatchSQL = `INSERT INTO dispatches (
        account,
        tx_hash,
        simulated_risk,
        health_factor,
        status
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, account, tx_hash, simulated_risk, health_factor, status, created_at;`

	updateDispatchStatusSQL = `UPDATE dispatches SET status = $2 WHERE id = $1;`

	listRecentDispatchesSQL = `SELECT
        id,
        account,
        tx_hash,
        simulated_risk,
        health_factor,
        status,
        created_at
    FROM dispatches
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Postgres persists keeper state in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock so only one
// keeper instance runs the trigger loop against a shared database.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// LoadAccounts reads the persisted watch-list.
func (s *Postgres) LoadAccounts(ctx context.Context) ([]watchlist.Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAccountsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list accounts: %w", queryErr)
	}
	defer rows.Close()

	accounts := make([]watchlist.Account, 0)
	for rows.Next() {
		rec, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}

// UpsertAccount persists one account record, last writer wins.
func (s *Postgres) UpsertAccount(ctx context.Context, rec watchlist.Account) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var syncedAt interface{}
	if !rec.LastSyncedAt.IsZero() {
		syncedAt = rec.LastSyncedAt
	}

	_, execErr := pool.Exec(ctx, upsertAccountSQL,
		watchlist.NormalizeAddress(rec.Address),
		rec.Collateral.String(),
		rec.Debt.String(),
		rec.LiquidationThreshold.String(),
		syncedAt,
		rec.LastAlertedRisk.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert account: %w", execErr)
	}
	return nil
}

// DeleteAccount removes an address, used for zero-debt cleanup.
func (s *Postgres) DeleteAccount(ctx context.Context, address string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAccountSQL, watchlist.NormalizeAddress(address)); execErr != nil {
		return fmt.Errorf("delete account: %w", execErr)
	}
	return nil
}

// LoadCooldowns reads the persisted suppression ledger.
func (s *Postgres) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCooldownsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list cooldowns: %w", queryErr)
	}
	defer rows.Close()

	cooldowns := make(map[string]time.Time)
	for rows.Next() {
		var addr string
		var at time.Time
		if err := rows.Scan(&addr, &at); err != nil {
			return nil, err
		}
		cooldowns[addr] = at
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cooldowns, nil
}

// UpsertCooldown records a dispatch suppression entry.
func (s *Postgres) UpsertCooldown(ctx context.Context, address string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertCooldownSQL, watchlist.NormalizeAddress(address), at); execErr != nil {
		return fmt.Errorf("upsert cooldown: %w", execErr)
	}
	return nil
}

// PruneCooldowns drops expired entries.
func (s *Postgres) PruneCooldowns(ctx context.Context, before time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pruneCooldownsSQL, before); execErr != nil {
		return fmt.Errorf("prune cooldowns: %w", execErr)
	}
	return nil
}

// InsertDispatch persists one trigger attempt.
func (s *Postgres) InsertDispatch(ctx context.Context, rec DispatchRecord) (DispatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return DispatchRecord{}, err
	}

	row := pool.QueryRow(ctx, insertDispatchSQL,
		watchlist.NormalizeAddress(rec.Account),
		rec.TxHash,
		rec.SimulatedRisk.String(),
		rec.HealthFactor.String(),
		rec.Status,
	)

	out, scanErr := scanDispatch(row)
	if scanErr != nil {
		return DispatchRecord{}, fmt.Errorf("insert dispatch: %w", scanErr)
	}
	return out, nil
}

// UpdateDispatchStatus records the asynchronous outcome of a dispatch.
func (s *Postgres) UpdateDispatchStatus(ctx context.Context, id int64, status string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateDispatchStatusSQL, id, status)
	if execErr != nil {
		return fmt.Errorf("update dispatch status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentDispatches lists the most recent trigger attempts.
func (s *Postgres) ListRecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDispatchesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent dispatches: %w", queryErr)
	}
	defer rows.Close()

	dispatches := make([]DispatchRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanDispatch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		dispatches = append(dispatches, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return dispatches, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (watchlist.Account, error) {
	var (
		address       string
		collateralStr string
		debtStr       string
		thresholdStr  string
		syncedAt      *time.Time
		alertedStr    string
	)

	if err := row.Scan(&address, &collateralStr, &debtStr, &thresholdStr, &syncedAt, &alertedStr); err != nil {
		return watchlist.Account{}, err
	}

	collateral, err := decimal.NewFromString(collateralStr)
	if err != nil {
		return watchlist.Account{}, fmt.Errorf("parse collateral: %w", err)
	}
	debt, err := decimal.NewFromString(debtStr)
	if err != nil {
		return watchlist.Account{}, fmt.Errorf("parse debt: %w", err)
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return watchlist.Account{}, fmt.Errorf("parse liq threshold: %w", err)
	}
	alerted, err := decimal.NewFromString(alertedStr)
	if err != nil {
		return watchlist.Account{}, fmt.Errorf("parse last alerted risk: %w", err)
	}

	rec := watchlist.Account{
		Address:              address,
		Collateral:           collateral,
		Debt:                 debt,
		LiquidationThreshold: threshold,
		LastAlertedRisk:      alerted,
	}
	if syncedAt != nil {
		rec.LastSyncedAt = *syncedAt
	}
	return rec, nil
}

func scanDispatch(row rowScanner) (DispatchRecord, error) {
	var (
		rec          DispatchRecord
		simulatedStr string
		hfStr        string
	)

	if err := row.Scan(&rec.ID, &rec.Account, &rec.TxHash, &simulatedStr, &hfStr, &rec.Status, &rec.CreatedAt); err != nil {
		return DispatchRecord{}, err
	}

	var convErr error
	rec.SimulatedRisk, convErr = decimal.NewFromString(simulatedStr)
	if convErr != nil {
		return DispatchRecord{}, fmt.Errorf("parse simulated risk: %w", convErr)
	}
	rec.HealthFactor, convErr = decimal.NewFromString(hfStr)
	if convErr != nil {
		return DispatchRecord{}, fmt.Errorf("parse health factor: %w", convErr)
	}
	return rec, nil
}

var _ Repository = (*Postgres)(nil)
