package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	gatewayservice "github.com/zhouzirui/voicelink/backend/internal/service/gateway"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
)

func newTestHandler(t *testing.T, journalEnabled bool) (*Handler, *journal.Store) {
	t.Helper()
	store := journal.NewStore(t.TempDir(), journalEnabled)
	svc := gatewayservice.NewService(gatewayservice.Config{}, gatewayservice.NewRegistry(), store)
	return New(svc, store), store
}

func newTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var body struct {
		OK  bool   `json:"ok"`
		Now string `json:"now"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if !body.OK {
		t.Fatalf("expected ok=true")
	}
	if _, err := time.Parse(time.RFC3339, body.Now); err != nil {
		t.Fatalf("now is not RFC3339: %q", body.Now)
	}
}

func TestCreateSessionResponseShape(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"speaker":"custom_voice"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d, body %s", rr.Code, rr.Body.String())
	}
	var body struct {
		SessionID string `json:"sessionId"`
		WSPath    string `json:"wsPath"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if body.SessionID == "" {
		t.Fatalf("sessionId missing")
	}
	if body.WSPath != "/ws?sessionId="+body.SessionID {
		t.Fatalf("unexpected wsPath: %q", body.WSPath)
	}
	expires, err := time.Parse(time.RFC3339, body.ExpiresAt)
	if err != nil {
		t.Fatalf("expiresAt is not RFC3339: %q", body.ExpiresAt)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expiresAt is in the past: %v", expires)
	}
}

func TestCreateSessionEmptyBody(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("empty body should mint with defaults, got %d", rr.Code)
	}
}

func TestCreateSessionRejectsBadConfig(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := newTestRouter(h)

	cases := []string{
		`{broken`,
		`{"recvTimeout":5}`,
		`{"inputMod":"telepathy"}`,
	}
	for _, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, rr.Code)
		}
	}
}

func TestInterruptValidation(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/interrupt", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing sessionId should 400, got %d", rr.Code)
	}
}

func TestInterruptUnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := newTestRouter(h)

	body, _ := json.Marshal(map[string]string{"sessionId": "no-such-session"})
	req := httptest.NewRequest(http.MethodPost, "/interrupt", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var resp struct {
		OK          bool `json:"ok"`
		Interrupted bool `json:"interrupted"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true")
	}
	if resp.Interrupted {
		t.Fatalf("unknown session reported as interrupted")
	}
}

func TestHistoryNotFound(t *testing.T) {
	h, _ := newTestHandler(t, true)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/history/no-such-session", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "session_not_found") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	h, store := newTestHandler(t, true)
	r := newTestRouter(h)

	if err := store.Append("sess-x", "session_opened", map[string]any{"source": "api"}); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := store.Append("sess-x", "session_closed", nil); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status: %d", rr.Code)
	}
	var list struct {
		Sessions []journal.Meta `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].SessionID != "sess-x" {
		t.Fatalf("unexpected sessions: %+v", list.Sessions)
	}

	req = httptest.NewRequest(http.MethodGet, "/history/sess-x", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("detail status: %d", rr.Code)
	}
	var detail struct {
		SessionID string          `json:"sessionId"`
		Events    []journal.Event `json:"events"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if detail.SessionID != "sess-x" || len(detail.Events) != 2 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.Events[0].Type != "session_opened" {
		t.Fatalf("unexpected first event: %s", detail.Events[0].Type)
	}
}
