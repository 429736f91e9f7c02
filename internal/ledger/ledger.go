// Package ledger keeps bank accounts and PSP directories in SQLite.
//
// Balances are stored as decimal strings. Each debit or credit runs as one
// immediate transaction, so the balance check and the update happen under
// the database write lock and two debits of the same account never both
// pass the check. The update is also guarded on the balance it read.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/storage"
)

// Ledger errors
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrBalanceChanged      = errors.New("balance changed during posting")
)

// Account is a bank account addressed by VPA.
type Account struct {
	ID        string
	VPA       string
	Name      string
	BankCode  string
	IFSC      string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Ledger is one bank's account book.
type Ledger struct {
	db *sql.DB
}

// Open opens the ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			vpa TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			bank_code TEXT,
			ifsc TEXT,
			balance TEXT NOT NULL DEFAULT '0',
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS postings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vpa TEXT NOT NULL,
			direction TEXT NOT NULL,
			amount TEXT NOT NULL,
			balance_after TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_postings_vpa ON postings(vpa);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Upsert inserts or replaces an account, keyed by VPA.
func (l *Ledger) Upsert(ctx context.Context, a Account) error {
	if a.ID == "" {
		a.ID = storage.GenerateID()
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("account %s: %w", a.VPA, ErrInvalidAmount)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO accounts (id, vpa, name, bank_code, ifsc, balance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vpa) DO UPDATE SET
			name = excluded.name,
			bank_code = excluded.bank_code,
			ifsc = excluded.ifsc,
			balance = excluded.balance,
			updated_at = excluded.updated_at
	`, a.ID, a.VPA, a.Name, a.BankCode, a.IFSC, a.Balance.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", a.VPA, err)
	}
	return nil
}

// Get returns the account for vpa.
func (l *Ledger) Get(ctx context.Context, vpa string) (*Account, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, vpa, name, bank_code, ifsc, balance, updated_at
		FROM accounts WHERE vpa = ?
	`, vpa)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", vpa, ErrAccountNotFound)
	}
	return a, err
}

// List returns every account ordered by VPA.
func (l *Ledger) List(ctx context.Context) ([]Account, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, vpa, name, bank_code, ifsc, balance, updated_at
		FROM accounts ORDER BY vpa
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Debit takes amount from vpa and returns the new balance.
func (l *Ledger) Debit(ctx context.Context, vpa string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.post(ctx, vpa, amount.Neg())
}

// Credit adds amount to vpa and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, vpa string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.post(ctx, vpa, amount)
}

func (l *Ledger) post(ctx context.Context, vpa string, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE vpa = ?`, vpa).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%s: %w", vpa, ErrAccountNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account %s has corrupt balance %q: %w", vpa, raw, err)
	}

	next := balance.Add(delta)
	if next.IsNegative() {
		return balance, fmt.Errorf("%s: balance %s, debit %s: %w", vpa, balance.StringFixed(2), delta.Neg().StringFixed(2), ErrInsufficientBalance)
	}

	now := time.Now().UTC()
	if err := updateBalance(ctx, tx, vpa, raw, next.String(), now); err != nil {
		return decimal.Zero, err
	}

	direction := "CREDIT"
	if delta.IsNegative() {
		direction = "DEBIT"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO postings (vpa, direction, amount, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, vpa, direction, delta.Abs().String(), next.String(), now); err != nil {
		return decimal.Zero, fmt.Errorf("failed to record posting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit: %w", err)
	}
	return next, nil
}

// updateBalance sets vpa's balance to next only if it still reads prev.
func updateBalance(ctx context.Context, tx *sql.Tx, vpa, prev, next string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ?, updated_at = ? WHERE vpa = ? AND balance = ?`,
		next, now, vpa, prev)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", vpa, ErrBalanceChanged)
	}
	return nil
}

// Postings returns how many debits and credits vpa has had.
func (l *Ledger) Postings(ctx context.Context, vpa string) (debits, credits int, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'DEBIT' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN 1 ELSE 0 END), 0)
		FROM postings WHERE vpa = ?
	`, vpa).Scan(&debits, &credits)
	return debits, credits, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*Account, error) {
	var (
		a        Account
		bankCode sql.NullString
		ifsc     sql.NullString
		balance  string
	)
	if err := s.Scan(&a.ID, &a.VPA, &a.Name, &bankCode, &ifsc, &balance, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.BankCode = bankCode.String
	a.IFSC = ifsc.String

	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("account %s has corrupt balance %q: %w", a.VPA, balance, err)
	}
	a.Balance = bal
	return &a, nil
}
