// Package notices implements the scheduled patron notice engine: computing
// when a notice fires relative to its anchor, persisting that intent,
// sweeping due notices in bounded batches, and cancelling notices made
// obsolete by later circulation events.
//
// Pipeline: lifecycle event → Scheduler writes ScheduledNotice rows →
// (independently, on a timer) Processor claims due rows → resolve → dispatch
// → advance-or-delete. All state lives in Postgres; a sweep invocation
// carries nothing between calls.
package notices

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Enums
// --------------------------------------------------------------------------

// Timing relates a notice's fire time to its anchor timestamp.
type Timing string

const (
	TimingBefore Timing = "Before"
	TimingUponAt Timing = "Upon At"
	TimingAfter  Timing = "After"
)

// TriggeringEvent names the circulation event a scheduled notice is tied to.
type TriggeringEvent string

const (
	EventDueDate               TriggeringEvent = "Due Date"
	EventDueDateNotRealTime    TriggeringEvent = "Due Date - Not Real Time"
	EventAgedToLostReturned    TriggeringEvent = "Aged To Lost - Returned"
	EventAgedToLostFineCharged TriggeringEvent = "Aged To Lost - Fine Charged"
	EventOverdueFineReturned   TriggeringEvent = "Overdue Fine - Returned"
	EventOverdueFineRenewed    TriggeringEvent = "Overdue Fine - Renewed"
	EventRequestExpiration     TriggeringEvent = "Request Expiration"
	EventHoldExpiration        TriggeringEvent = "Hold Expiration"
)

// Format is the delivery channel for a notice.
type Format string

const (
	FormatEmail Format = "Email"
	FormatSMS   Format = "SMS"
	FormatPrint Format = "Print"
)

// --------------------------------------------------------------------------
// Owner reference
// --------------------------------------------------------------------------

// OwnerKind discriminates the OwnerRef tagged union.
type OwnerKind string

const (
	OwnerLoan          OwnerKind = "loan"
	OwnerFeeFineAction OwnerKind = "fee-fine-action"
	OwnerRequest       OwnerKind = "request"
)

// OwnerRef identifies the domain entity a notice is about. Exactly one
// variant is populated, selected by Kind. Resolution code switches on Kind
// exhaustively so a new owner kind is a compile-visible extension.
type OwnerRef struct {
	Kind OwnerKind

	// OwnerLoan and OwnerFeeFineAction
	LoanID uuid.UUID

	// OwnerFeeFineAction only
	FeeFineActionID uuid.UUID
	UserID          uuid.UUID

	// OwnerRequest only
	RequestID uuid.UUID
}

// LoanOwner builds an OwnerRef for a loan-anchored notice.
func LoanOwner(loanID uuid.UUID) OwnerRef {
	return OwnerRef{Kind: OwnerLoan, LoanID: loanID}
}

// FeeFineOwner builds an OwnerRef for a fee/fine-action-anchored notice.
func FeeFineOwner(actionID, loanID, userID uuid.UUID) OwnerRef {
	return OwnerRef{Kind: OwnerFeeFineAction, FeeFineActionID: actionID, LoanID: loanID, UserID: userID}
}

// RequestOwner builds an OwnerRef for a request-anchored notice.
func RequestOwner(requestID uuid.UUID) OwnerRef {
	return OwnerRef{Kind: OwnerRequest, RequestID: requestID}
}

// Validate checks that exactly the fields required by Kind are set.
func (o OwnerRef) Validate() error {
	switch o.Kind {
	case OwnerLoan:
		if o.LoanID == uuid.Nil {
			return fmt.Errorf("loan owner: loanId is required")
		}
	case OwnerFeeFineAction:
		if o.FeeFineActionID == uuid.Nil || o.LoanID == uuid.Nil || o.UserID == uuid.Nil {
			return fmt.Errorf("fee-fine-action owner: feeFineActionId, loanId and userId are required")
		}
	case OwnerRequest:
		if o.RequestID == uuid.Nil {
			return fmt.Errorf("request owner: requestId is required")
		}
	default:
		return fmt.Errorf("unknown owner kind %q", o.Kind)
	}
	return nil
}

func (o OwnerRef) String() string {
	switch o.Kind {
	case OwnerLoan:
		return fmt.Sprintf("loan %s", o.LoanID)
	case OwnerFeeFineAction:
		return fmt.Sprintf("fee-fine-action %s (loan %s)", o.FeeFineActionID, o.LoanID)
	case OwnerRequest:
		return fmt.Sprintf("request %s", o.RequestID)
	}
	return fmt.Sprintf("unknown owner %q", string(o.Kind))
}

type ownerJSON struct {
	Type            OwnerKind `json:"type"`
	LoanID          string    `json:"loanId,omitempty"`
	FeeFineActionID string    `json:"feeFineActionId,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	RequestID       string    `json:"requestId,omitempty"`
}

// MarshalJSON serializes only the fields the Kind populates.
func (o OwnerRef) MarshalJSON() ([]byte, error) {
	out := ownerJSON{Type: o.Kind}
	switch o.Kind {
	case OwnerLoan:
		out.LoanID = o.LoanID.String()
	case OwnerFeeFineAction:
		out.FeeFineActionID = o.FeeFineActionID.String()
		out.LoanID = o.LoanID.String()
		out.UserID = o.UserID.String()
	case OwnerRequest:
		out.RequestID = o.RequestID.String()
	}
	return json.Marshal(out)
}

func (o *OwnerRef) UnmarshalJSON(data []byte) error {
	var in ownerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parsed := OwnerRef{Kind: in.Type}
	var err error
	parse := func(s string) uuid.UUID {
		if err != nil || s == "" {
			return uuid.Nil
		}
		var id uuid.UUID
		id, err = uuid.Parse(s)
		return id
	}
	parsed.LoanID = parse(in.LoanID)
	parsed.FeeFineActionID = parse(in.FeeFineActionID)
	parsed.UserID = parse(in.UserID)
	parsed.RequestID = parse(in.RequestID)
	if err != nil {
		return fmt.Errorf("owner ref: %w", err)
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*o = parsed
	return nil
}

// --------------------------------------------------------------------------
// Notice configuration
// --------------------------------------------------------------------------

// Duration marshals as a Go duration string ("48h", "6h30m") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the timing policy a scheduled notice was created from.
// Period is required unless Timing is Upon At; RecurrencePeriod is required
// exactly when Recurring is set.
type Config struct {
	Timing           Timing    `json:"timing"`
	Period           Duration  `json:"period,omitempty"`
	Recurring        bool      `json:"recurring"`
	RecurrencePeriod Duration  `json:"recurrencePeriod,omitempty"`
	TemplateID       uuid.UUID `json:"templateId"`
	Format           Format    `json:"format"`
	SendInRealTime   bool      `json:"sendInRealTime"`
}

// Validate enforces the timing/periodicity rules above.
func (c Config) Validate() error {
	switch c.Timing {
	case TimingBefore, TimingAfter:
		if c.Period <= 0 {
			return fmt.Errorf("timing %q requires a positive period", c.Timing)
		}
	case TimingUponAt:
	default:
		return fmt.Errorf("unknown notice timing %q", c.Timing)
	}
	if c.Recurring && c.RecurrencePeriod <= 0 {
		return fmt.Errorf("recurring notice requires a positive recurrence period")
	}
	if !c.Recurring && c.RecurrencePeriod != 0 {
		return fmt.Errorf("recurrence period set on a non-recurring notice")
	}
	if c.TemplateID == uuid.Nil {
		return fmt.Errorf("template id is required")
	}
	return nil
}

// --------------------------------------------------------------------------
// Scheduled notice
// --------------------------------------------------------------------------

// ScheduledNotice is the unit of work: one pending send with a single
// due-to-fire instant. Recurring notices have NextRunTime advanced in place
// after a send; non-recurring ones are deleted.
type ScheduledNotice struct {
	ID          uuid.UUID       `json:"id"`
	Owner       OwnerRef        `json:"owner"`
	Event       TriggeringEvent `json:"triggeringEvent"`
	Config      Config          `json:"noticeConfig"`
	NextRunTime time.Time       `json:"nextRunTime"`
}
