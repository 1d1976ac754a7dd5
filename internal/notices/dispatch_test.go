package notices

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHTTPGatewaySend(t *testing.T) {
	t.Parallel()
	var got SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/patron-notice" {
			t.Errorf("path = %q, want /patron-notice", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, 5*time.Second, discardLogger())
	req := SendRequest{
		NoticeID:    uuid.New(),
		TemplateID:  uuid.New(),
		RecipientID: uuid.New(),
		Format:      FormatEmail,
		Context:     map[string]any{"user": map[string]any{"barcode": "123"}},
	}

	if err := g.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.NoticeID != req.NoticeID || got.Format != req.Format {
		t.Fatalf("transport received %+v, want %+v", got, req)
	}
}

func TestHTTPGatewayReportsDispatchError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template render failed", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, 5*time.Second, discardLogger())
	err := g.Send(context.Background(), SendRequest{NoticeID: uuid.New()})

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error = %v, want *DispatchError", err)
	}
	if dispatchErr.Status != http.StatusBadGateway {
		t.Fatalf("Status = %d, want 502", dispatchErr.Status)
	}
}

func TestNilGatewayLogsInsteadOfSending(t *testing.T) {
	t.Parallel()
	g := NewHTTPGateway("", time.Second, discardLogger())
	if g != nil {
		t.Fatal("empty base URL must produce a nil gateway")
	}
	if err := g.Send(context.Background(), SendRequest{NoticeID: uuid.New()}); err != nil {
		t.Fatalf("nil gateway Send: %v", err)
	}
}
