package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GetLoan returns a loan by id.
func GetLoan(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*Loan, error) {
	var l Loan
	err := pool.QueryRow(ctx, "loan_by_id", id).Scan(
		&l.ID, &l.UserID, &l.ItemID, &l.DueDate, &l.Status,
		&l.DeclaredLost, &l.AgedToLost, &l.ClaimedReturned,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "loan", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return &l, nil
}

// GetItem returns an item by id.
func GetItem(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*Item, error) {
	var i Item
	err := pool.QueryRow(ctx, "item_by_id", id).Scan(
		&i.ID, &i.Title, &i.Barcode, &i.CallNumber, &i.Location,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &i, nil
}

// GetUser returns a user by id.
func GetUser(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*User, error) {
	var u User
	err := pool.QueryRow(ctx, "user_by_id", id).Scan(
		&u.ID, &u.Barcode, &u.FirstName, &u.LastName, &u.Email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetAccount returns a fee/fine account by id.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*Account, error) {
	var (
		a      Account
		loanID *uuid.UUID // accounts not tied to a loan store NULL
	)
	err := pool.QueryRow(ctx, "account_by_id", id).Scan(
		&a.ID, &loanID, &a.UserID, &a.FeeFineType, &a.Amount, &a.Remaining, &a.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "account", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if loanID != nil {
		a.LoanID = *loanID
	}
	return &a, nil
}

// GetFeeFineAction returns a fee/fine action by id.
func GetFeeFineAction(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*FeeFineAction, error) {
	var a FeeFineAction
	err := pool.QueryRow(ctx, "fee_fine_action_by_id", id).Scan(
		&a.ID, &a.AccountID, &a.Type, &a.Amount, &a.Date,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "fee/fine action", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get fee/fine action: %w", err)
	}
	return &a, nil
}

// GetRequest returns a request by id.
func GetRequest(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*Request, error) {
	var (
		r                    Request
		expiresAt, holdUntil *time.Time // both dates are optional
	)
	err := pool.QueryRow(ctx, "request_by_id", id).Scan(
		&r.ID, &r.UserID, &r.ItemID, &r.Status, &expiresAt, &holdUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "request", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if expiresAt != nil {
		r.ExpirationDate = *expiresAt
	}
	if holdUntil != nil {
		r.HoldShelfExpirationDate = *holdUntil
	}
	return &r, nil
}

// GetTemplate returns a notice template by id. Inactive templates are
// reported as missing so stale notices referencing them get discarded.
func GetTemplate(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*Template, error) {
	var t Template
	err := pool.QueryRow(ctx, "template_by_id", id).Scan(&t.ID, &t.Name, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Record: "template", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if !t.Active {
		return nil, &NotFoundError{Record: "template", ID: id}
	}
	return &t, nil
}
