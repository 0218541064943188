// Package sqlite stores markets and the settlement outbox in a single
// SQLite file using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/leafsii/outcome-amm/internal/db/migrations"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

type Database struct {
	db *sql.DB
}

// Open creates or opens the database at path, enables WAL and foreign keys
// and applies pending migrations. ":memory:" gives a private in-memory
// database.
func Open(ctx context.Context, path string) (*Database, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if err := migrations.Up(db, migrations.DialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *Database) Close() error { return d.db.Close() }

func (d *Database) Create(ctx context.Context, m *markets.Market, debits []settlement.Debit) (uint64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if err := debit(ctx, tx, debits); err != nil {
		return 0, err
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM markets`).Scan(&next); err != nil {
		return 0, fmt.Errorf("sqlite: next market id: %w", err)
	}
	m.ID = uint64(next)
	data, err := markets.EncodeMarket(m)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixNano()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO markets (id, creator, collateral_token, end_time, finalized, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		next, m.Creator, m.CollateralToken, m.EndTime.UnixNano(), m.Finalized, string(data), m.CreatedAt.UnixNano(), now,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert market: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return m.ID, nil
}

func (d *Database) Load(ctx context.Context, id uint64) (*markets.Market, error) {
	var record string
	err := d.db.QueryRowContext(ctx, `SELECT record FROM markets WHERE id = ?`, int64(id)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, markets.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load market %d: %w", id, err)
	}
	return markets.DecodeMarket([]byte(record))
}

func (d *Database) Commit(ctx context.Context, m *markets.Market, debits []settlement.Debit, transfers []settlement.Transfer) error {
	data, err := markets.EncodeMarket(m)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET record = ?, finalized = ?, updated_at = ? WHERE id = ?`,
		string(data), m.Finalized, time.Now().UnixNano(), int64(m.ID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update market %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return markets.ErrMarketNotFound
	}
	if err := debit(ctx, tx, debits); err != nil {
		return err
	}

	for _, t := range transfers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfers (id, market_id, account, token, amount, kind, nonce, status, attempts, last_error, next_attempt_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, int64(t.MarketID), t.Account, t.Token, t.Amount.String(), string(t.Kind), int64(t.Nonce),
			string(t.Status), t.Attempts, t.LastError, t.NextAttemptAt.UnixNano(), t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert transfer %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// debit subtracts debits from escrow inside tx. The single connection
// serializes writers, so the read and the write cannot interleave.
func debit(ctx context.Context, tx *sql.Tx, debits []settlement.Debit) error {
	merged, err := settlement.MergeDebits(debits)
	if err != nil {
		return err
	}
	for _, db := range merged {
		have, err := balance(ctx, tx, db.Account, db.Token)
		if err != nil {
			return err
		}
		if have.LessThan(db.Amount) {
			return settlement.Shortfall(db, have)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE balances SET amount = ?, updated_at = ? WHERE account = ? AND token = ?`,
			have.Sub(db.Amount).String(), time.Now().UnixNano(), db.Account, db.Token,
		)
		if err != nil {
			return fmt.Errorf("sqlite: debit %s: %w", db.Account, err)
		}
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balance(ctx context.Context, q querier, account, token string) (decimal.Decimal, error) {
	var amount string
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ? AND token = ?`, account, token).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: balance %s: %w", account, err)
	}
	return decimal.NewFromString(amount)
}

func (d *Database) Credit(ctx context.Context, dep settlement.Deposit) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (id, account, token, amount, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		dep.ID, dep.Account, dep.Token, dep.Amount.String(), dep.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert deposit %s: %w", dep.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	have, err := balance(ctx, tx, dep.Account, dep.Token)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (account, token, amount, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (account, token) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		dep.Account, dep.Token, have.Add(dep.Amount).String(), time.Now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: credit %s: %w", dep.Account, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit: %w", err)
	}
	return true, nil
}

func (d *Database) Balance(ctx context.Context, account, token string) (decimal.Decimal, error) {
	return balance(ctx, d.db, account, token)
}

func (d *Database) Balances(ctx context.Context, account string) ([]settlement.Balance, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT token, amount FROM balances WHERE account = ? ORDER BY token`, account)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list balances: %w", err)
	}
	defer rows.Close()

	var out []settlement.Balance
	for rows.Next() {
		var token, amount string
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, fmt.Errorf("sqlite: scan balance: %w", err)
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("sqlite: balance %s amount: %w", token, err)
		}
		out = append(out, settlement.Balance{Account: account, Token: token, Amount: v})
	}
	return out, rows.Err()
}

func (d *Database) List(ctx context.Context, offset, limit int) ([]*markets.Market, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `SELECT record FROM markets ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	defer rows.Close()

	var out []*markets.Market
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
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
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count markets: %w", err)
	}
	return uint64(n), nil
}

const transferColumns = `id, market_id, account, token, amount, kind, nonce, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func (d *Database) Due(ctx context.Context, now time.Time, limit int) ([]settlement.Transfer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?`,
		string(settlement.StatusPending), now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: due transfers: %w", err)
	}
	return scanTransfers(rows)
}

func (d *Database) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE transfers SET status = ?, attempts = attempts + 1, last_error = '', updated_at = ? WHERE id = ?`,
		string(settlement.StatusDelivered), at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark delivered %s: %w", id, err)
	}
	return requireRow(res)
}

func (d *Database) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error {
	var res sql.Result
	var err error
	if next.IsZero() {
		res, err = d.db.ExecContext(ctx,
			`UPDATE transfers SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(settlement.StatusDead), attempts, lastErr, time.Now().UnixNano(), id,
		)
	} else {
		res, err = d.db.ExecContext(ctx,
			`UPDATE transfers SET attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
			attempts, lastErr, next.UnixNano(), time.Now().UnixNano(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("sqlite: mark failed %s: %w", id, err)
	}
	return requireRow(res)
}

func (d *Database) GetTransfer(ctx context.Context, id string) (settlement.Transfer, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id)
	if err != nil {
		return settlement.Transfer{}, fmt.Errorf("sqlite: get transfer %s: %w", id, err)
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
	rows, err := d.db.QueryContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE market_id = ? ORDER BY nonce`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list transfers: %w", err)
	}
	return scanTransfers(rows)
}

func scanTransfers(rows *sql.Rows) ([]settlement.Transfer, error) {
	defer rows.Close()

	var out []settlement.Transfer
	for rows.Next() {
		var (
			t                        settlement.Transfer
			marketID, nonce          int64
			amount, kind, status     string
			nextAt, createdAt, updAt int64
		)
		if err := rows.Scan(&t.ID, &marketID, &t.Account, &t.Token, &amount, &kind, &nonce, &status,
			&t.Attempts, &t.LastError, &nextAt, &createdAt, &updAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan transfer: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("sqlite: transfer %s amount: %w", t.ID, err)
		}
		t.Amount = parsed
		t.MarketID = uint64(marketID)
		t.Nonce = uint64(nonce)
		t.Kind = settlement.Kind(kind)
		t.Status = settlement.Status(status)
		t.NextAttemptAt = time.Unix(0, nextAt).UTC()
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		t.UpdatedAt = time.Unix(0, updAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settlement.ErrNotFound
	}
	return nil
}
