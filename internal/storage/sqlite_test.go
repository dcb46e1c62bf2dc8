package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "convo.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_AppendAndListRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.AppendMessage(ctx, convo.Message{
		SessionID: "s1",
		Role:      convo.RoleUser,
		Content:   "hello",
		Metadata:  map[string]string{"source": "voice"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("id and timestamp should be assigned: %+v", first)
	}
	if _, err := store.AppendMessage(ctx, convo.Message{SessionID: "s1", Role: convo.RoleAssistant, Content: "hi there"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.AppendMessage(ctx, convo.Message{SessionID: "s1", Role: convo.RoleUser, Content: "how are you"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	wantContent := []string{"hello", "hi there", "how are you"}
	for i, w := range wantContent {
		if msgs[i].Content != w {
			t.Fatalf("message %d = %q, want %q", i, msgs[i].Content, w)
		}
	}
	if msgs[0].Role != convo.RoleUser || msgs[1].Role != convo.RoleAssistant {
		t.Fatalf("roles not preserved: %+v", msgs)
	}
	if msgs[0].Metadata["source"] != "voice" {
		t.Fatalf("metadata not preserved: %+v", msgs[0].Metadata)
	}
	if msgs[1].Metadata != nil {
		t.Fatalf("empty metadata should stay nil, got %+v", msgs[1].Metadata)
	}
}

func TestSQLiteStore_SameInstantInsertsKeepOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for _, content := range []string{"a", "b", "c"} {
		_, err := store.AppendMessage(ctx, convo.Message{
			SessionID: "s1",
			Role:      convo.RoleUser,
			Content:   content,
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := store.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := ""
	for _, m := range msgs {
		got += m.Content
	}
	if got != "abc" {
		t.Fatalf("order = %q, want abc", got)
	}
}

func TestSQLiteStore_ListScopedToSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, convo.Message{SessionID: "s1", Role: convo.RoleUser, Content: "mine"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.AppendMessage(ctx, convo.Message{SessionID: "s2", Role: convo.RoleUser, Content: "theirs"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	msgs, err := store.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "mine" {
		t.Fatalf("session scoping broken: %+v", msgs)
	}
}

func TestSQLiteStore_SummaryLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got, err := store.GetSummary(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no summary, got %+v", got)
	}

	if err := store.PutSummary(ctx, convo.Summary{SessionID: "s1", Summary: "We talked about dogs.", MessageCount: 22}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = store.GetSummary(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Summary != "We talked about dogs." || got.MessageCount != 22 {
		t.Fatalf("summary round trip: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("updated_at should be set")
	}

	if err := store.PutSummary(ctx, convo.Summary{SessionID: "s1", Summary: "Dogs, then cats.", MessageCount: 44}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = store.GetSummary(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Summary != "Dogs, then cats." || got.MessageCount != 44 {
		t.Fatalf("summary not replaced: %+v", got)
	}
}

func TestSQLiteStore_VoicePreferences(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got, err := store.GetVoiceSettings(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected defaults marker nil, got %+v", got)
	}

	if err := store.PutVoiceSettings(ctx, "s1", convo.VoiceSettings{Voice: "aura-luna-en", Rate: 1.2, Pitch: 0.9}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = store.GetVoiceSettings(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Voice != "aura-luna-en" || got.Rate != 1.2 || got.Pitch != 0.9 {
		t.Fatalf("voice round trip: %+v", got)
	}

	if err := store.PutVoiceSettings(ctx, "s1", convo.VoiceSettings{Voice: "aura-orion-en", Rate: 1.0, Pitch: 1.0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = store.GetVoiceSettings(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Voice != "aura-orion-en" {
		t.Fatalf("voice not replaced: %+v", got)
	}
}

func TestSQLiteStore_DeviceSessionBinding(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.LoadSessionID(ctx, "device-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != "" {
		t.Fatalf("new device should have no session, got %q", id)
	}

	if err := store.SaveSessionID(ctx, "device-1", "session-a"); err != nil {
		t.Fatalf("save: %v", err)
	}
	id, err = store.LoadSessionID(ctx, "device-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != "session-a" {
		t.Fatalf("loaded %q, want session-a", id)
	}

	if err := store.SaveSessionID(ctx, "device-1", "session-b"); err != nil {
		t.Fatalf("save: %v", err)
	}
	id, err = store.LoadSessionID(ctx, "device-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if id != "session-b" {
		t.Fatalf("rebind failed, got %q", id)
	}
}

func TestOpenSQLite_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convo.db")
	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := first.AppendMessage(context.Background(), convo.Message{SessionID: "s1", Role: convo.RoleUser, Content: "persists"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	msgs, err := second.ListMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "persists" {
		t.Fatalf("data lost across reopen: %+v", msgs)
	}
}
