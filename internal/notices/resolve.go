package notices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencirc/noticesvc/internal/cache"
	"github.com/opencirc/noticesvc/internal/records"
)

// NoticeContext is everything the sweep needs after resolution: who receives
// the notice, the rendering data for the template, and the owner-state facts
// the relevance guards consume.
type NoticeContext struct {
	RecipientID uuid.UUID
	Render      map[string]any

	// OwnerClosed is set when the owning loan/account/request reached a
	// state that invalidates the notice; the sweep discards silently.
	OwnerClosed bool

	// DueDate is the owning loan's due date; zero for non-loan owners.
	DueDate time.Time
}

// EntityResolver loads every entity a notice references. A missing entity
// surfaces as *records.NotFoundError, which the sweep turns into a discard.
type EntityResolver interface {
	Resolve(ctx context.Context, n ScheduledNotice) (*NoticeContext, error)
}

// PgResolver resolves entities from Postgres, with template lookups cached.
// Templates change rarely and every notice in a batch tends to share a
// handful of them.
type PgResolver struct {
	pool  *pgxpool.Pool
	cache *cache.Cache
}

// NewPgResolver builds a resolver on the shared pool.
func NewPgResolver(pool *pgxpool.Pool, c *cache.Cache) *PgResolver {
	return &PgResolver{pool: pool, cache: c}
}

// Resolve loads the owner graph for a notice. The switch over owner kinds is
// exhaustive: a new kind fails loudly here instead of half-resolving.
func (r *PgResolver) Resolve(ctx context.Context, n ScheduledNotice) (*NoticeContext, error) {
	if _, err := r.getTemplate(ctx, n.Config.TemplateID); err != nil {
		return nil, err
	}

	switch n.Owner.Kind {
	case OwnerLoan:
		return r.resolveLoan(ctx, n.Owner.LoanID)
	case OwnerFeeFineAction:
		return r.resolveFeeFineAction(ctx, n.Owner)
	case OwnerRequest:
		return r.resolveRequest(ctx, n.Owner.RequestID)
	}
	return nil, fmt.Errorf("unknown owner kind %q", n.Owner.Kind)
}

func (r *PgResolver) resolveLoan(ctx context.Context, loanID uuid.UUID) (*NoticeContext, error) {
	loan, err := records.GetLoan(ctx, r.pool, loanID)
	if err != nil {
		return nil, err
	}
	item, err := records.GetItem(ctx, r.pool, loan.ItemID)
	if err != nil {
		return nil, err
	}
	user, err := records.GetUser(ctx, r.pool, loan.UserID)
	if err != nil {
		return nil, err
	}

	return &NoticeContext{
		RecipientID: user.ID,
		OwnerClosed: loan.Closed(),
		DueDate:     loan.DueDate,
		Render: map[string]any{
			"user": userRender(user),
			"item": itemRender(item),
			"loan": map[string]any{
				"dueDate": loan.DueDate,
			},
		},
	}, nil
}

func (r *PgResolver) resolveFeeFineAction(ctx context.Context, owner OwnerRef) (*NoticeContext, error) {
	action, err := records.GetFeeFineAction(ctx, r.pool, owner.FeeFineActionID)
	if err != nil {
		return nil, err
	}
	account, err := records.GetAccount(ctx, r.pool, action.AccountID)
	if err != nil {
		return nil, err
	}
	user, err := records.GetUser(ctx, r.pool, owner.UserID)
	if err != nil {
		return nil, err
	}
	loan, err := records.GetLoan(ctx, r.pool, owner.LoanID)
	if err != nil {
		return nil, err
	}

	return &NoticeContext{
		RecipientID: user.ID,
		OwnerClosed: account.Closed(),
		Render: map[string]any{
			"user": userRender(user),
			"feeCharge": map[string]any{
				"type":            account.FeeFineType,
				"amount":          account.Amount,
				"remainingAmount": account.Remaining,
			},
			"feeAction": map[string]any{
				"type":   action.Type,
				"amount": action.Amount,
				"date":   action.Date,
			},
			"loan": map[string]any{
				"dueDate": loan.DueDate,
			},
		},
	}, nil
}

func (r *PgResolver) resolveRequest(ctx context.Context, requestID uuid.UUID) (*NoticeContext, error) {
	req, err := records.GetRequest(ctx, r.pool, requestID)
	if err != nil {
		return nil, err
	}
	user, err := records.GetUser(ctx, r.pool, req.UserID)
	if err != nil {
		return nil, err
	}
	item, err := records.GetItem(ctx, r.pool, req.ItemID)
	if err != nil {
		return nil, err
	}

	return &NoticeContext{
		RecipientID: user.ID,
		OwnerClosed: req.Closed(),
		Render: map[string]any{
			"user": userRender(user),
			"item": itemRender(item),
			"request": map[string]any{
				"status":                  req.Status,
				"expirationDate":          req.ExpirationDate,
				"holdShelfExpirationDate": req.HoldShelfExpirationDate,
			},
		},
	}, nil
}

func (r *PgResolver) getTemplate(ctx context.Context, id uuid.UUID) (*records.Template, error) {
	key := "template:" + id.String()
	if data, ok := r.cache.Get(key); ok {
		var t records.Template
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
	}
	t, err := records.GetTemplate(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		r.cache.Set(key, data, cache.TTLTemplate)
	}
	return t, nil
}

func userRender(u *records.User) map[string]any {
	return map[string]any{
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"barcode":   u.Barcode,
		"email":     u.Email,
	}
}

func itemRender(i *records.Item) map[string]any {
	return map[string]any{
		"title":      i.Title,
		"barcode":    i.Barcode,
		"callNumber": i.CallNumber,
		"location":   i.Location,
	}
}
