package notices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SendRequest is a fully-resolved notice ready for the outbound transport.
// Context carries the rendering data the template service interpolates.
type SendRequest struct {
	NoticeID    uuid.UUID      `json:"noticeId"`
	TemplateID  uuid.UUID      `json:"templateId"`
	RecipientID uuid.UUID      `json:"recipientId"`
	Format      Format         `json:"format"`
	Context     map[string]any `json:"context"`
}

// Gateway renders and sends a notice. Implementations report transport
// failures as *DispatchError so the sweep can keep the notice for retry.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) error
}

// DispatchError is a transport/provider failure. The notice that hit it is
// left untouched and retried on the next sweep.
type DispatchError struct {
	Status int
	Body   string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("notice transport returned %d: %s", e.Status, e.Body)
}

// HTTPGateway posts resolved notices to the patron notice transport.
// Nil-safe: an unconfigured gateway logs sends instead of posting, so the
// engine runs in development without a transport.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPGateway builds a gateway for the given transport base URL. Returns
// nil when baseURL is empty (dispatch disabled).
func NewHTTPGateway(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if baseURL == "" {
		return nil
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (g *HTTPGateway) Send(ctx context.Context, req SendRequest) error {
	if g == nil {
		slog.Default().Info("notice dispatch (no transport configured)",
			"notice_id", req.NoticeID, "template_id", req.TemplateID,
			"recipient_id", req.RecipientID, "format", string(req.Format))
		return nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/patron-notice", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return &DispatchError{Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DispatchError{Status: resp.StatusCode, Body: string(detail)}
	}
	return nil
}
