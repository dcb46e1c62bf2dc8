package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	prefer string
	body   string
}

// fakePostgREST serves canned responses and records what the store sent.
type fakePostgREST struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	response string
}

func newFakePostgREST(status int, response string) (*fakePostgREST, *httptest.Server) {
	f := &fakePostgREST{status: status, response: response}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			prefer: r.Header.Get("Prefer"),
			body:   string(body),
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.response))
	}))
	return f, srv
}

func (f *fakePostgREST) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("no request recorded")
	}
	return f.requests[len(f.requests)-1]
}

func newTestSupabaseStore(t *testing.T, status int, response string) (*SupabaseStore, *fakePostgREST) {
	t.Helper()
	rest, srv := newFakePostgREST(status, response)
	t.Cleanup(srv.Close)
	store, err := NewSupabase(SupabaseConfig{URL: srv.URL, ServiceRoleKey: "service-key"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, rest
}

func TestSupabaseStore_AppendMessagePostsRow(t *testing.T) {
	store, rest := newTestSupabaseStore(t, http.StatusCreated, "")

	got, err := store.AppendMessage(context.Background(), convo.Message{
		SessionID: "s1",
		Role:      convo.RoleUser,
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("id and timestamp should be assigned: %+v", got)
	}

	req := rest.last(t)
	if req.method != http.MethodPost || req.path != "/rest/v1/messages" {
		t.Fatalf("unexpected request: %s %s", req.method, req.path)
	}
	if !strings.Contains(req.prefer, "return=minimal") {
		t.Fatalf("expected minimal return, prefer=%q", req.prefer)
	}
	var row messageRow
	if err := json.Unmarshal([]byte(req.body), &row); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if row.SessionID != "s1" || row.Role != "user" || row.Content != "hello" {
		t.Fatalf("row mismatch: %+v", row)
	}
}

func TestSupabaseStore_ListMessagesFiltersAndOrders(t *testing.T) {
	response := `[
		{"id":"a","session_id":"s1","role":"user","content":"hi","created_at":"2026-02-01T10:00:00Z"},
		{"id":"b","session_id":"s1","role":"assistant","content":"hey","created_at":"2026-02-01T10:00:03Z"}
	]`
	store, rest := newTestSupabaseStore(t, http.StatusOK, response)

	msgs, err := store.ListMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Role != convo.RoleAssistant {
		t.Fatalf("rows not mapped: %+v", msgs)
	}

	req := rest.last(t)
	if req.path != "/rest/v1/messages" {
		t.Fatalf("path = %s", req.path)
	}
	if !strings.Contains(req.query, "session_id=eq.s1") {
		t.Fatalf("missing session filter: %s", req.query)
	}
	if !strings.Contains(req.query, "order=created_at.asc") {
		t.Fatalf("missing ascending order: %s", req.query)
	}
}

func TestSupabaseStore_GetSummaryAbsentReturnsNil(t *testing.T) {
	store, _ := newTestSupabaseStore(t, http.StatusOK, `[]`)

	sum, err := store.GetSummary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sum != nil {
		t.Fatalf("expected nil summary, got %+v", sum)
	}
}

func TestSupabaseStore_GetSummaryMapsRow(t *testing.T) {
	response := `[{"session_id":"s1","summary":"Mostly dogs.","message_count":24,"updated_at":"2026-02-01T10:00:00Z"}]`
	store, rest := newTestSupabaseStore(t, http.StatusOK, response)

	sum, err := store.GetSummary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sum == nil || sum.Summary != "Mostly dogs." || sum.MessageCount != 24 {
		t.Fatalf("summary mismatch: %+v", sum)
	}
	if !strings.Contains(rest.last(t).query, "limit=1") {
		t.Fatalf("expected single-row fetch: %s", rest.last(t).query)
	}
}

func TestSupabaseStore_PutSummaryUpserts(t *testing.T) {
	store, rest := newTestSupabaseStore(t, http.StatusCreated, "")

	err := store.PutSummary(context.Background(), convo.Summary{SessionID: "s1", Summary: "Dogs.", MessageCount: 22})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	req := rest.last(t)
	if req.path != "/rest/v1/summaries" {
		t.Fatalf("path = %s", req.path)
	}
	if !strings.Contains(req.prefer, "resolution=merge-duplicates") {
		t.Fatalf("expected upsert prefer, got %q", req.prefer)
	}
	if !strings.Contains(req.query, "on_conflict=session_id") {
		t.Fatalf("expected conflict target: %s", req.query)
	}
}

func TestSupabaseStore_VoicePreferencesRoundTrip(t *testing.T) {
	store, rest := newTestSupabaseStore(t, http.StatusCreated, "")
	err := store.PutVoiceSettings(context.Background(), "s1", convo.VoiceSettings{Voice: "aura-luna-en", Rate: 1.1, Pitch: 0.8})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rest.last(t).path != "/rest/v1/voice_preferences" {
		t.Fatalf("path = %s", rest.last(t).path)
	}

	store2, _ := newTestSupabaseStore(t, http.StatusOK, `[{"session_id":"s1","voice":"aura-luna-en","rate":1.1,"pitch":0.8}]`)
	vs, err := store2.GetVoiceSettings(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vs == nil || vs.Voice != "aura-luna-en" || vs.Rate != 1.1 {
		t.Fatalf("voice mismatch: %+v", vs)
	}
}

func TestSupabaseStore_DeviceSessionBinding(t *testing.T) {
	store, rest := newTestSupabaseStore(t, http.StatusOK, `[{"device_id":"d1","session_id":"session-a","updated_at":"2026-02-01T10:00:00Z"}]`)

	id, err := store.LoadSessionID(context.Background(), "d1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != "session-a" {
		t.Fatalf("loaded %q", id)
	}
	if !strings.Contains(rest.last(t).query, "device_id=eq.d1") {
		t.Fatalf("missing device filter: %s", rest.last(t).query)
	}

	store2, rest2 := newTestSupabaseStore(t, http.StatusCreated, "")
	if err := store2.SaveSessionID(context.Background(), "d1", "session-b"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(rest2.last(t).prefer, "resolution=merge-duplicates") {
		t.Fatalf("save should upsert, prefer=%q", rest2.last(t).prefer)
	}
}

func TestSupabaseStore_BackendErrorSurfaces(t *testing.T) {
	store, _ := newTestSupabaseStore(t, http.StatusInternalServerError, `{"message":"boom"}`)

	if _, err := store.AppendMessage(context.Background(), convo.Message{SessionID: "s1", Role: convo.RoleUser, Content: "x"}); err == nil {
		t.Fatalf("expected error on 500")
	}
	if _, err := store.ListMessages(context.Background(), "s1"); err == nil {
		t.Fatalf("expected error on 500")
	}
}
