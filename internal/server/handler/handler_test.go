package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/crypto"
	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/webhook"
)

const testMint = "MintAAAA111111111111111111111111111111111111"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePositions struct{ positions []domain.Position }

func (f *fakePositions) Positions() []domain.Position { return f.positions }

func (f *fakePositions) Position(mint string) (domain.Position, error) {
	for _, p := range f.positions {
		if p.Mint == mint {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

type fakeExecutor struct {
	result domain.SellResult
	quotes []domain.WarmedQuote
	sells  []string
}

func (f *fakeExecutor) Sell(ctx context.Context, mint string, fractionPct int) domain.SellResult {
	f.sells = append(f.sells, mint)
	return f.result
}

func (f *fakeExecutor) WarmedQuotes() []domain.WarmedQuote { return f.quotes }
func (f *fakeExecutor) BreakerOpenUntil() time.Time        { return time.Time{} }

type fakeSellStream struct {
	msgs   []domain.StreamMessage
	err    error
	stream string
	lastID string
	count  int
}

func (f *fakeSellStream) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.stream, f.lastID, f.count = stream, lastID, count
	return f.msgs, f.err
}

type fakeProcessor struct {
	result webhook.Result
	err    error
	bodies [][]byte
}

func (f *fakeProcessor) Process(ctx context.Context, body []byte) (webhook.Result, error) {
	f.bodies = append(f.bodies, body)
	return f.result, f.err
}

func TestListPositionsFiltersByStatus(t *testing.T) {
	positions := &fakePositions{positions: []domain.Position{
		{Mint: testMint, Status: domain.PositionStatusOpen},
		{Mint: "MintBBBB", Status: domain.PositionStatusClosed},
	}}
	h := NewPositionHandler(positions, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=open", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listPositionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Positions) != 1 || resp.Positions[0].Mint != testMint {
		t.Errorf("positions = %+v", resp.Positions)
	}
}

func TestGetPositionNotFound(t *testing.T) {
	h := NewPositionHandler(&fakePositions{}, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{mint}", h.GetPosition)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/"+testMint, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestExecuteSell(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     domain.SellResult
		wantStatus int
		wantSells  int
	}{
		{
			name:       "successful sell",
			body:       `{"mint":"` + testMint + `","fraction":50}`,
			result:     domain.SellResult{Mint: testMint, Success: true},
			wantStatus: http.StatusOK,
			wantSells:  1,
		},
		{
			name:       "failed sell reported as unprocessable",
			body:       `{"mint":"` + testMint + `","fraction":100}`,
			result:     domain.SellResult{Mint: testMint, Error: "no route"},
			wantStatus: http.StatusUnprocessableEntity,
			wantSells:  1,
		},
		{
			name:       "missing mint",
			body:       `{"fraction":50}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "fraction out of range",
			body:       `{"mint":"` + testMint + `","fraction":150}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{result: tt.result}
			h := NewSellHandler(exec, nil, testLogger())

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/sell", strings.NewReader(tt.body))
			h.ExecuteSell(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if len(exec.sells) != tt.wantSells {
				t.Errorf("sells = %d, want %d", len(exec.sells), tt.wantSells)
			}
		})
	}
}

func TestListSellsPagesTheStream(t *testing.T) {
	stream := &fakeSellStream{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"mint":"` + testMint + `","success":true}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"mint":"MintBBBB","success":false}`)},
	}}
	h := NewSellHandler(&fakeExecutor{}, stream, testLogger())

	rec := httptest.NewRecorder()
	h.ListSells(rec, httptest.NewRequest(http.MethodGet, "/api/sells?after=0-0&limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if stream.stream != "sells" || stream.lastID != "0-0" || stream.count != 10 {
		t.Errorf("read stream=%q lastID=%q count=%d", stream.stream, stream.lastID, stream.count)
	}

	var resp struct {
		Sells []sellHistoryEntry `json:"sells"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sells) != 2 {
		t.Fatalf("sells = %d, want 2 (the unparsable entry is dropped)", len(resp.Sells))
	}
	if resp.Sells[0].ID != "1-0" || resp.Sells[1].ID != "3-0" {
		t.Errorf("ids = %q, %q", resp.Sells[0].ID, resp.Sells[1].ID)
	}
}

func TestListSellsWithoutStreamBackend(t *testing.T) {
	h := NewSellHandler(&fakeExecutor{}, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListSells(rec, httptest.NewRequest(http.MethodGet, "/api/sells", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleWebhookAuth(t *testing.T) {
	auth := &crypto.WebhookAuth{Secret: "topsecret"}
	body := `{"signature":"sig1"}`

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"valid shared secret", "Authorization", "topsecret", http.StatusOK},
		{"wrong shared secret", "Authorization", "nope", http.StatusUnauthorized},
		{"valid hmac signature", "X-Signature", auth.Sign([]byte(body)), http.StatusOK},
		{"wrong hmac signature", "X-Signature", "bogus", http.StatusUnauthorized},
		{"missing credentials", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{result: webhook.Result{Received: 1}}
			h := NewWebhookHandler(proc, auth, testLogger())

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			h.HandleWebhook(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && len(proc.bodies) != 1 {
				t.Error("authorized delivery must reach the processor")
			}
			if tt.wantStatus == http.StatusUnauthorized && len(proc.bodies) != 0 {
				t.Error("rejected delivery must not reach the processor")
			}
		})
	}
}

func TestHandleWebhookUnparsable(t *testing.T) {
	proc := &fakeProcessor{err: domain.ErrUnparsable}
	h := NewWebhookHandler(proc, nil, testLogger())

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("garbage")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
