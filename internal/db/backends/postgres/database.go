// Package postgres stores markets and the settlement outbox in PostgreSQL
// via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/db/migrations"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

type Config struct {
	DSN      string
	MaxConns int
	MinConns int
}

type Database struct {
	pool *pgxpool.Pool
}

// Open connects, pings and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	err = migrations.Up(sqlDB, migrations.DialectPostgres)
	sqlDB.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Database{pool: pool}, nil
}

func (d *Database) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *Database) Close() error {
	d.pool.Close()
	return nil
}

func (d *Database) Create(ctx context.Context, m *markets.Market, debits []settlement.Debit) (uint64, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := debit(ctx, tx, debits); err != nil {
		return 0, err
	}

	// ids are dense arena indexes, so allocation is serialized
	if _, err := tx.Exec(ctx, `LOCK TABLE markets IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return 0, fmt.Errorf("postgres: lock markets: %w", err)
	}
	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM markets`).Scan(&next); err != nil {
		return 0, fmt.Errorf("postgres: next market id: %w", err)
	}
	m.ID = uint64(next)
	data, err := markets.EncodeMarket(m)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO markets (id, creator, collateral_token, end_time, finalized, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		next, m.Creator, m.CollateralToken, m.EndTime.UnixNano(), m.Finalized, string(data), m.CreatedAt.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert market: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return m.ID, nil
}

func (d *Database) Load(ctx context.Context, id uint64) (*markets.Market, error) {
	var record string
	err := d.pool.QueryRow(ctx, `SELECT record FROM markets WHERE id = $1`, int64(id)).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, markets.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load market %d: %w", id, err)
	}
	return markets.DecodeMarket([]byte(record))
}

func (d *Database) Commit(ctx context.Context, m *markets.Market, debits []settlement.Debit, transfers []settlement.Transfer) error {
	data, err := markets.EncodeMarket(m)
	if err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE markets SET record = $1, finalized = $2, updated_at = $3 WHERE id = $4`,
		string(data), m.Finalized, time.Now().UnixNano(), int64(m.ID),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return markets.ErrMarketNotFound
	}
	if err := debit(ctx, tx, debits); err != nil {
		return err
	}

	if len(transfers) > 0 {
		batch := &pgx.Batch{}
		for _, t := range transfers {
			batch.Queue(`
				INSERT INTO transfers (id, market_id, account, token, amount, kind, nonce, status, attempts, last_error, next_attempt_at, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (id) DO NOTHING`,
				t.ID, int64(t.MarketID), t.Account, t.Token, t.Amount.String(), string(t.Kind), int64(t.Nonce),
				string(t.Status), t.Attempts, t.LastError, t.NextAttemptAt.UnixNano(), t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range transfers {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: insert transfer %s: %w", transfers[i].ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: insert transfers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// debit subtracts debits from escrow inside tx. Rows are locked in the
// order MergeDebits returns so concurrent commits cannot deadlock.
func debit(ctx context.Context, tx pgx.Tx, debits []settlement.Debit) error {
	merged, err := settlement.MergeDebits(debits)
	if err != nil {
		return err
	}
	for _, db := range merged {
		have, err := balance(ctx, tx, db.Account, db.Token, true)
		if err != nil {
			return err
		}
		if have.LessThan(db.Amount) {
			return settlement.Shortfall(db, have)
		}
		_, err = tx.Exec(ctx,
			`UPDATE balances SET amount = $1, updated_at = $2 WHERE account = $3 AND token = $4`,
			have.Sub(db.Amount).String(), time.Now().UnixNano(), db.Account, db.Token,
		)
		if err != nil {
			return fmt.Errorf("postgres: debit %s: %w", db.Account, err)
		}
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balance(ctx context.Context, q querier, account, token string, forUpdate bool) (decimal.Decimal, error) {
	query := `SELECT amount FROM balances WHERE account = $1 AND token = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var amount string
	err := q.QueryRow(ctx, query, account, token).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return decimal.NewFromString(amount)
}

func (d *Database) Credit(ctx context.Context, dep settlement.Deposit) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO deposits (id, account, token, amount, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		dep.ID, dep.Account, dep.Token, dep.Amount.String(), dep.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert deposit %s: %w", dep.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	now := time.Now().UnixNano()
	// make sure the row exists so it can be locked
	_, err = tx.Exec(ctx, `
		INSERT INTO balances (account, token, amount, updated_at) VALUES ($1, $2, '0', $3)
		ON CONFLICT (account, token) DO NOTHING`,
		dep.Account, dep.Token, now,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: open balance %s: %w", dep.Account, err)
	}
	have, err := balance(ctx, tx, dep.Account, dep.Token, true)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE balances SET amount = $1, updated_at = $2 WHERE account = $3 AND token = $4`,
		have.Add(dep.Amount).String(), now, dep.Account, dep.Token,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: credit %s: %w", dep.Account, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit: %w", err)
	}
	return true, nil
}

func (d *Database) Balance(ctx context.Context, account, token string) (decimal.Decimal, error) {
	return balance(ctx, d.pool, account, token, false)
}

func (d *Database) Balances(ctx context.Context, account string) ([]settlement.Balance, error) {
	rows, err := d.pool.Query(ctx, `SELECT token, amount FROM balances WHERE account = $1 ORDER BY token`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var out []settlement.Balance
	for rows.Next() {
		var token, amount string
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: balance %s amount: %w", token, err)
		}
		out = append(out, settlement.Balance{Account: account, Token: token, Amount: v})
	}
	return out, rows.Err()
}

func (d *Database) List(ctx context.Context, offset, limit int) ([]*markets.Market, error) {
	if offset < 0 {
		offset = 0
	}
	query := `SELECT record FROM markets ORDER BY id OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []*markets.Market
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m, err := markets.DecodeMarket([]byte(record))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *Database) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return uint64(n), nil
}

const transferColumns = `id, market_id, account, token, amount, kind, nonce, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func (d *Database) Due(ctx context.Context, now time.Time, limit int) ([]settlement.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE status = $1 AND next_attempt_at <= $2 ORDER BY created_at, id`
	args := []any{string(settlement.StatusPending), now.UnixNano()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: due transfers: %w", err)
	}
	return scanTransfers(rows)
}

func (d *Database) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE transfers SET status = $1, attempts = attempts + 1, last_error = '', updated_at = $2 WHERE id = $3`,
		string(settlement.StatusDelivered), at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark delivered %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return settlement.ErrNotFound
	}
	return nil
}

func (d *Database) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error {
	status := string(settlement.StatusPending)
	nextAt := next.UnixNano()
	if next.IsZero() {
		status = string(settlement.StatusDead)
		nextAt = 0
	}
	tag, err := d.pool.Exec(ctx, `
		UPDATE transfers
		SET status = $1, attempts = $2, last_error = $3,
		    next_attempt_at = CASE WHEN $4::BIGINT = 0 THEN next_attempt_at ELSE $4::BIGINT END,
		    updated_at = $5
		WHERE id = $6`,
		status, attempts, lastErr, nextAt, time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark failed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return settlement.ErrNotFound
	}
	return nil
}

func (d *Database) GetTransfer(ctx context.Context, id string) (settlement.Transfer, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	if err != nil {
		return settlement.Transfer{}, fmt.Errorf("postgres: get transfer %s: %w", id, err)
	}
	ts, err := scanTransfers(rows)
	if err != nil {
		return settlement.Transfer{}, err
	}
	if len(ts) == 0 {
		return settlement.Transfer{}, settlement.ErrNotFound
	}
	return ts[0], nil
}

func (d *Database) ListTransfers(ctx context.Context, marketID uint64) ([]settlement.Transfer, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers WHERE market_id = $1 ORDER BY nonce`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	return scanTransfers(rows)
}

func scanTransfers(rows pgx.Rows) ([]settlement.Transfer, error) {
	defer rows.Close()

	var out []settlement.Transfer
	for rows.Next() {
		var (
			t                        settlement.Transfer
			marketID, nonce          int64
			amount, kind, status     string
			attempts                 int32
			nextAt, createdAt, updAt int64
		)
		if err := rows.Scan(&t.ID, &marketID, &t.Account, &t.Token, &amount, &kind, &nonce, &status,
			&attempts, &t.LastError, &nextAt, &createdAt, &updAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: transfer %s amount: %w", t.ID, err)
		}
		t.Amount = parsed
		t.MarketID = uint64(marketID)
		t.Nonce = uint64(nonce)
		t.Kind = settlement.Kind(kind)
		t.Status = settlement.Status(status)
		t.Attempts = int(attempts)
		t.NextAttemptAt = time.Unix(0, nextAt).UTC()
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		t.UpdatedAt = time.Unix(0, updAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
