package notices

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// Column positions in noticeColumns.
const (
	colLoanID = 2
	colUserID = 5
)

func uuidArg(t *testing.T, args []any, idx int) *uuid.UUID {
	t.Helper()
	v, ok := args[idx].(*uuid.UUID)
	if !ok {
		t.Fatalf("arg %d is %T, want *uuid.UUID", idx, args[idx])
	}
	return v
}

func TestNoticeArgsBindUnusedOwnerColumnsAsNull(t *testing.T) {
	t.Parallel()
	cfg := Config{Timing: TimingUponAt, TemplateID: uuid.New(), Format: FormatEmail, SendInRealTime: true}
	next := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	loanNotice := ScheduledNotice{ID: uuid.New(), Owner: LoanOwner(uuid.New()),
		Event: EventDueDate, Config: cfg, NextRunTime: next}
	requestNotice := ScheduledNotice{ID: uuid.New(), Owner: RequestOwner(uuid.New()),
		Event: EventRequestExpiration, Config: cfg, NextRunTime: next}
	feeNotice := ScheduledNotice{ID: uuid.New(),
		Owner: FeeFineOwner(uuid.New(), uuid.New(), uuid.New()),
		Event: EventAgedToLostFineCharged, Config: cfg, NextRunTime: next}

	// Loan and request owners carry no user id; the column must bind NULL,
	// never the zero UUID.
	if got := uuidArg(t, noticeArgs(loanNotice), colUserID); got != nil {
		t.Fatalf("loan-owned notice binds user_id %v, want NULL", *got)
	}
	if got := uuidArg(t, noticeArgs(requestNotice), colUserID); got != nil {
		t.Fatalf("request-owned notice binds user_id %v, want NULL", *got)
	}
	if got := uuidArg(t, noticeArgs(requestNotice), colLoanID); got != nil {
		t.Fatalf("request-owned notice binds loan_id %v, want NULL", *got)
	}

	if got := uuidArg(t, noticeArgs(feeNotice), colUserID); got == nil ||
		*got != feeNotice.Owner.UserID {
		t.Fatalf("fee-fine notice user_id = %v, want %v", got, feeNotice.Owner.UserID)
	}

	if got := len(noticeArgs(loanNotice)); got != 15 {
		t.Fatalf("noticeArgs bound %d columns, want 15", got)
	}
}
