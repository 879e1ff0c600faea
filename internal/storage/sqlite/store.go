// Package sqlite implements the durable-store contracts on an embedded
// SQLite database. Amount columns are stored as fixed-point decimal
// text; SQLite's write serialization plus the version-guarded UPDATE
// gives the compare-and-swap semantics the ledger expects.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/ledger"
)

// Schema is the DDL for a fresh database.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	balance    TEXT NOT NULL,
	currency   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);

CREATE TABLE IF NOT EXISTS postings (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	category_id     TEXT NOT NULL DEFAULT '',
	amount          TEXT NOT NULL,
	kind            TEXT NOT NULL,
	peer_account_id TEXT NOT NULL DEFAULT '',
	ts              TIMESTAMP NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_postings_account ON postings(account_id);
CREATE INDEX IF NOT EXISTS idx_postings_category ON postings(owner_id, category_id, ts);

CREATE TABLE IF NOT EXISTS budgets (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	category_id TEXT NOT NULL,
	amount      TEXT NOT NULL,
	spent       TEXT NOT NULL,
	start_date  TIMESTAMP NOT NULL,
	end_date    TIMESTAMP NOT NULL,
	period      TEXT NOT NULL,
	version     INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budgets_owner ON budgets(owner_id, category_id);

CREATE TABLE IF NOT EXISTS categories (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_categories_owner ON categories(owner_id);
`

// Store wraps an open SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle; the schema must already exist.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ budget.Store   = (*Store)(nil)
	_ category.Store = (*Store)(nil)
)

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, balance, currency, version, created_at
		FROM accounts WHERE id = ?
	`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func scanAccount(row *sql.Row) (*ledger.Account, error) {
	var a ledger.Account
	var balance string
	err := row.Scan(&a.ID, &a.OwnerID, &a.Kind, &a.Name, &balance, &a.Currency, &a.Version, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored balance: %w", err)
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, kind, name, balance, currency, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.OwnerID, a.Kind, a.Name, a.Balance.StringFixed(2), a.Currency, a.Version, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, kind, name, balance, currency, version, created_at
		FROM accounts WHERE owner_id = ? ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		var a ledger.Account
		var balance string
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Kind, &a.Name, &balance, &a.Currency, &a.Version, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("failed to parse stored balance: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) ApplyPosting(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal, p *ledger.Posting) (*ledger.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := casAccount(ctx, tx, accountID, expectedVersion, newBalance); err != nil {
		return nil, err
	}
	if err := insertPosting(ctx, tx, p); err != nil {
		return nil, err
	}

	var a ledger.Account
	var balance string
	err = tx.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, name, balance, currency, version, created_at
		FROM accounts WHERE id = ?
	`, accountID).Scan(&a.ID, &a.OwnerID, &a.Kind, &a.Name, &balance, &a.Currency, &a.Version, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account: %w", err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse stored balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit posting: %w", err)
	}
	return &a, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, u ledger.TransferUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := casAccount(ctx, tx, u.FromID, u.FromVersion, u.FromBalance); err != nil {
		return err
	}
	if err := casAccount(ctx, tx, u.ToID, u.ToVersion, u.ToBalance); err != nil {
		return err
	}
	if err := insertPosting(ctx, tx, u.Out); err != nil {
		return err
	}
	if err := insertPosting(ctx, tx, u.In); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

func casAccount(ctx context.Context, tx *sql.Tx, id string, expectedVersion int64, balance decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, balance.StringFixed(2), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check account existence: %w", err)
		}
		if !exists {
			return ledger.ErrAccountNotFound
		}
		return ledger.ErrVersionMismatch
	}
	return nil
}

func insertPosting(ctx context.Context, tx *sql.Tx, p *ledger.Posting) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO postings (id, account_id, owner_id, category_id, amount, kind, peer_account_id, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.OwnerID, p.CategoryID, p.Amount.StringFixed(2), p.Kind, p.PeerAccountID, p.Timestamp, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert posting: %w", err)
	}
	return nil
}

func (s *Store) PostingsByAccount(ctx context.Context, accountID string) ([]*ledger.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, owner_id, category_id, amount, kind, peer_account_id, ts, created_at
		FROM postings WHERE account_id = ? ORDER BY ts
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()
	return collectPostings(rows)
}

func (s *Store) PostingsByCategory(ctx context.Context, ownerID, categoryID string, from, to time.Time) ([]*ledger.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, owner_id, category_id, amount, kind, peer_account_id, ts, created_at
		FROM postings WHERE owner_id = ? AND category_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts
	`, ownerID, categoryID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()
	return collectPostings(rows)
}

func collectPostings(rows *sql.Rows) ([]*ledger.Posting, error) {
	var out []*ledger.Posting
	for rows.Next() {
		var p ledger.Posting
		var amount string
		err := rows.Scan(&p.ID, &p.AccountID, &p.OwnerID, &p.CategoryID, &amount, &p.Kind, &p.PeerAccountID, &p.Timestamp, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse stored amount: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) GetBudget(ctx context.Context, id string) (*budget.Budget, error) {
	var b budget.Budget
	var amount, spent string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, category_id, amount, spent, start_date, end_date, period, version, created_at
		FROM budgets WHERE id = ?
	`, id).Scan(&b.ID, &b.OwnerID, &b.CategoryID, &amount, &spent, &b.StartDate, &b.EndDate, &b.Period, &b.Version, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, budget.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse stored amount: %w", err)
	}
	if b.Spent, err = decimal.NewFromString(spent); err != nil {
		return nil, fmt.Errorf("failed to parse stored spent: %w", err)
	}
	return &b, nil
}

func (s *Store) CreateBudget(ctx context.Context, b *budget.Budget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budgets (id, owner_id, category_id, amount, spent, start_date, end_date, period, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.OwnerID, b.CategoryID, b.Amount.StringFixed(2), b.Spent.StringFixed(2),
		b.StartDate, b.EndDate, b.Period, b.Version, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func (s *Store) ListBudgets(ctx context.Context, ownerID string) ([]*budget.Budget, error) {
	query := `SELECT id, owner_id, category_id, amount, spent, start_date, end_date, period, version, created_at FROM budgets ORDER BY created_at`
	args := []any{}
	if ownerID != "" {
		query = `SELECT id, owner_id, category_id, amount, spent, start_date, end_date, period, version, created_at FROM budgets WHERE owner_id = ? ORDER BY created_at`
		args = append(args, ownerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()
	return collectBudgets(rows)
}

func (s *Store) FindBudgets(ctx context.Context, ownerID, categoryID string, at time.Time) ([]*budget.Budget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, category_id, amount, spent, start_date, end_date, period, version, created_at
		FROM budgets WHERE owner_id = ? AND category_id = ? AND start_date <= ? AND end_date >= ?
	`, ownerID, categoryID, at, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()
	return collectBudgets(rows)
}

func collectBudgets(rows *sql.Rows) ([]*budget.Budget, error) {
	var out []*budget.Budget
	for rows.Next() {
		var b budget.Budget
		var amount, spent string
		err := rows.Scan(&b.ID, &b.OwnerID, &b.CategoryID, &amount, &spent, &b.StartDate, &b.EndDate, &b.Period, &b.Version, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse stored amount: %w", err)
		}
		if b.Spent, err = decimal.NewFromString(spent); err != nil {
			return nil, fmt.Errorf("failed to parse stored spent: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) SetSpent(ctx context.Context, id string, expectedVersion int64, spent decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE budgets SET spent = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, spent.StringFixed(2), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update budget spent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM budgets WHERE id = ?)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check budget existence: %w", err)
		}
		if !exists {
			return budget.ErrNotFound
		}
		return ledger.ErrVersionMismatch
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*category.Category, error) {
	var c category.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, parent_id, name, kind, created_at
		FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.OwnerID, &c.ParentID, &c.Name, &c.Kind, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, category.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *category.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, owner_id, parent_id, name, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.ParentID, c.Name, c.Kind, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]*category.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, parent_id, name, kind, created_at
		FROM categories WHERE owner_id = ? ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []*category.Category
	for rows.Next() {
		var c category.Category
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ParentID, &c.Name, &c.Kind, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
