// Package records provides read models for the circulation entities a
// scheduled notice references: loans, items, users, fee/fine accounts and
// actions, requests, and notice templates. Lookups go through prepared
// statements registered by internal/db.
package records

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotFoundError reports a referenced entity that no longer exists. The sweep
// treats it as a discard signal, not a batch failure.
type NotFoundError struct {
	Record string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Record, e.ID)
}

// Loan statuses as stored.
const (
	LoanStatusOpen   = "Open"
	LoanStatusClosed = "Closed"
)

// Loan is an open or closed circulation loan.
type Loan struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ItemID         uuid.UUID
	DueDate        time.Time
	Status         string
	DeclaredLost   bool
	AgedToLost     bool
	ClaimedReturned bool
}

// Closed reports whether the loan can no longer produce notices: returned,
// or transitioned to a lost/claimed state.
func (l *Loan) Closed() bool {
	return l.Status == LoanStatusClosed || l.DeclaredLost || l.AgedToLost || l.ClaimedReturned
}

// Item is the inventory item on a loan or request.
type Item struct {
	ID         uuid.UUID
	Title      string
	Barcode    string
	CallNumber string
	Location   string
}

// User is the notice recipient.
type User struct {
	ID        uuid.UUID
	Barcode   string
	FirstName string
	LastName  string
	Email     string
}

// Account statuses as stored.
const (
	AccountStatusOpen   = "Open"
	AccountStatusClosed = "Closed"
)

// Account is a fee/fine account attached to a loan.
type Account struct {
	ID          uuid.UUID
	LoanID      uuid.UUID
	UserID      uuid.UUID
	FeeFineType string
	Amount      float64
	Remaining   float64
	Status      string
}

// Closed reports whether the account has been paid off, waived or cancelled.
func (a *Account) Closed() bool {
	return a.Status == AccountStatusClosed
}

// FeeFineAction is a single charge/payment action on an account. Its date is
// the anchor for fee/fine notices.
type FeeFineAction struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Type      string
	Amount    float64
	Date      time.Time
}

// Request statuses that still await fulfilment.
const (
	RequestStatusOpenNotYetFilled    = "Open - Not yet filled"
	RequestStatusOpenAwaitingPickup  = "Open - Awaiting pickup"
	RequestStatusOpenInTransit       = "Open - In transit"
	RequestStatusClosedFilled        = "Closed - Filled"
	RequestStatusClosedCancelled     = "Closed - Cancelled"
	RequestStatusClosedPickupExpired = "Closed - Pickup expired"
	RequestStatusClosedUnfilled      = "Closed - Unfilled"
)

// Request is a hold/page/recall request on an item.
type Request struct {
	ID                      uuid.UUID
	UserID                  uuid.UUID
	ItemID                  uuid.UUID
	Status                  string
	ExpirationDate          time.Time
	HoldShelfExpirationDate time.Time
}

// Closed reports whether the request reached a terminal state.
func (r *Request) Closed() bool {
	switch r.Status {
	case RequestStatusClosedFilled, RequestStatusClosedCancelled,
		RequestStatusClosedPickupExpired, RequestStatusClosedUnfilled:
		return true
	}
	return false
}

// Template is a patron notice template. Only existence and active state
// matter here; rendering happens in the notice transport.
type Template struct {
	ID     uuid.UUID
	Name   string
	Active bool
}
