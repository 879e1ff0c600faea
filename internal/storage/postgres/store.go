// Package postgres implements the durable-store contracts on PostgreSQL
// via pgx. Optimistic concurrency is a version-guarded UPDATE; the
// transfer's two-account unit is a single SERIALIZABLE transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/budget"
	"github.com/example/fintrack/internal/category"
	"github.com/example/fintrack/internal/ledger"
)

const queryTimeout = 5 * time.Second

// Store wraps a pgx pool.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore creates a store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ budget.Store   = (*Store)(nil)
	_ category.Store = (*Store)(nil)
)

// Close closes the underlying pool.
func (s *Store) Close() {
	s.Pool.Close()
}

const accountColumns = `id, owner_id, kind, name, balance::text, currency, version, created_at`

func scanAccount(row pgx.Row) (*ledger.Account, error) {
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

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	a, err := scanAccount(s.Pool.QueryRow(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.Pool.Exec(queryCtx, `
		INSERT INTO accounts (id, owner_id, kind, name, balance, currency, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.OwnerID, a.Kind, a.Name, a.Balance.StringFixed(2), a.Currency, a.Version, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*ledger.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyPosting runs the balance CAS and the posting append in one
// transaction. A stale version surfaces as ledger.ErrVersionMismatch so
// the account ledger's retry loop re-reads and tries again.
func (s *Store) ApplyPosting(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal, p *ledger.Posting) (*ledger.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.Pool.BeginTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	tag, err := tx.Exec(queryCtx, `
		UPDATE accounts SET balance = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`, newBalance.StringFixed(2), accountID, expectedVersion)
	if err != nil {
		return nil, mapConflict(err, "failed to update balance")
	}
	if tag.RowsAffected() == 0 {
		return nil, s.missingOrStale(queryCtx, accountID)
	}

	if err := insertPosting(queryCtx, tx, p); err != nil {
		return nil, err
	}

	a, err := scanAccount(tx.QueryRow(queryCtx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to reload account: %w", err)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return nil, mapConflict(err, "failed to commit posting")
	}
	return a, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, u ledger.TransferUpdate) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.Pool.BeginTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	for _, leg := range []struct {
		id      string
		version int64
		balance decimal.Decimal
	}{
		{u.FromID, u.FromVersion, u.FromBalance},
		{u.ToID, u.ToVersion, u.ToBalance},
	} {
		tag, err := tx.Exec(queryCtx, `
			UPDATE accounts SET balance = $1, version = version + 1
			WHERE id = $2 AND version = $3
		`, leg.balance.StringFixed(2), leg.id, leg.version)
		if err != nil {
			return mapConflict(err, "failed to update balance")
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrStale(queryCtx, leg.id)
		}
	}

	if err := insertPosting(queryCtx, tx, u.Out); err != nil {
		return err
	}
	if err := insertPosting(queryCtx, tx, u.In); err != nil {
		return err
	}

	if err := tx.Commit(queryCtx); err != nil {
		return mapConflict(err, "failed to commit transfer")
	}
	return nil
}

func insertPosting(ctx context.Context, tx pgx.Tx, p *ledger.Posting) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO postings (id, account_id, owner_id, category_id, amount, kind, peer_account_id, ts, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9)
	`, p.ID, p.AccountID, p.OwnerID, p.CategoryID, p.Amount.StringFixed(2), p.Kind, p.PeerAccountID, p.Timestamp, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert posting: %w", err)
	}
	return nil
}

const postingColumns = `id, account_id, owner_id, COALESCE(category_id, ''), amount::text, kind, COALESCE(peer_account_id, ''), ts, created_at`

func scanPosting(row pgx.Row) (*ledger.Posting, error) {
	var p ledger.Posting
	var amount string
	err := row.Scan(&p.ID, &p.AccountID, &p.OwnerID, &p.CategoryID, &amount, &p.Kind, &p.PeerAccountID, &p.Timestamp, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount: %w", err)
	}
	return &p, nil
}

func (s *Store) PostingsByAccount(ctx context.Context, accountID string) ([]*ledger.Posting, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx,
		`SELECT `+postingColumns+` FROM postings WHERE account_id = $1 ORDER BY ts`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()
	return collectPostings(rows)
}

func (s *Store) PostingsByCategory(ctx context.Context, ownerID, categoryID string, from, to time.Time) ([]*ledger.Posting, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+postingColumns+` FROM postings
		WHERE owner_id = $1 AND category_id = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts
	`, ownerID, categoryID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()
	return collectPostings(rows)
}

func collectPostings(rows pgx.Rows) ([]*ledger.Posting, error) {
	var out []*ledger.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const budgetColumns = `id, owner_id, category_id, amount::text, spent::text, start_date, end_date, period, version, created_at`

func scanBudget(row pgx.Row) (*budget.Budget, error) {
	var b budget.Budget
	var amount, spent string
	err := row.Scan(&b.ID, &b.OwnerID, &b.CategoryID, &amount, &spent, &b.StartDate, &b.EndDate, &b.Period, &b.Version, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse stored amount: %w", err)
	}
	if b.Spent, err = decimal.NewFromString(spent); err != nil {
		return nil, fmt.Errorf("failed to parse stored spent: %w", err)
	}
	return &b, nil
}

func (s *Store) GetBudget(ctx context.Context, id string) (*budget.Budget, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b, err := scanBudget(s.Pool.QueryRow(queryCtx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, budget.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

func (s *Store) CreateBudget(ctx context.Context, b *budget.Budget) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.Pool.Exec(queryCtx, `
		INSERT INTO budgets (id, owner_id, category_id, amount, spent, start_date, end_date, period, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.OwnerID, b.CategoryID, b.Amount.StringFixed(2), b.Spent.StringFixed(2),
		b.StartDate, b.EndDate, b.Period, b.Version, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func (s *Store) ListBudgets(ctx context.Context, ownerID string) ([]*budget.Budget, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + budgetColumns + ` FROM budgets ORDER BY created_at`
	args := []any{}
	if ownerID != "" {
		query = `SELECT ` + budgetColumns + ` FROM budgets WHERE owner_id = $1 ORDER BY created_at`
		args = append(args, ownerID)
	}

	rows, err := s.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var out []*budget.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) FindBudgets(ctx context.Context, ownerID, categoryID string, at time.Time) ([]*budget.Budget, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE owner_id = $1 AND category_id = $2 AND start_date <= $3 AND end_date >= $3
	`, ownerID, categoryID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var out []*budget.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) SetSpent(ctx context.Context, id string, expectedVersion int64, spent decimal.Decimal) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.Pool.Exec(queryCtx, `
		UPDATE budgets SET spent = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`, spent.StringFixed(2), id, expectedVersion)
	if err != nil {
		return mapConflict(err, "failed to update budget spent")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Pool.QueryRow(queryCtx, `SELECT EXISTS(SELECT 1 FROM budgets WHERE id = $1)`, id).Scan(&exists); err != nil {
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
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c category.Category
	err := s.Pool.QueryRow(queryCtx, `
		SELECT id, owner_id, COALESCE(parent_id, ''), name, kind, created_at
		FROM categories WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.ParentID, &c.Name, &c.Kind, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, category.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *category.Category) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.Pool.Exec(queryCtx, `
		INSERT INTO categories (id, owner_id, parent_id, name, kind, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`, c.ID, c.OwnerID, c.ParentID, c.Name, c.Kind, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]*category.Category, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.Pool.Query(queryCtx, `
		SELECT id, owner_id, COALESCE(parent_id, ''), name, kind, created_at
		FROM categories WHERE owner_id = $1 ORDER BY created_at
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

// missingOrStale turns a zero-row CAS update into the right domain error.
func (s *Store) missingOrStale(ctx context.Context, accountID string) error {
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check account existence: %w", err)
	}
	if !exists {
		return ledger.ErrAccountNotFound
	}
	return ledger.ErrVersionMismatch
}

// mapConflict folds PostgreSQL serialization failures (sqlstate 40001)
// into the version-mismatch error so the ledger's bounded retry loop
// handles both conflict flavors the same way.
func mapConflict(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return ledger.ErrVersionMismatch
	}
	return fmt.Errorf("%s: %w", msg, err)
}
