package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// SupabaseConfig carries the project credentials.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
}

// SupabaseStore persists conversation state in a hosted Supabase project using
// its PostgREST interface. Tables mirror the SQLite schema.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabase creates a store bound to the project in config.
func NewSupabase(config SupabaseConfig) (*SupabaseStore, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

type messageRow struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type summaryRow struct {
	SessionID    string    `json:"session_id"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type voiceRow struct {
	SessionID string  `json:"session_id"`
	Voice     string  `json:"voice"`
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
}

type deviceSessionRow struct {
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendMessage inserts one message. The id and timestamp are assigned client
// side so the stored row can be returned without a representation round trip.
func (s *SupabaseStore) AppendMessage(ctx context.Context, m convo.Message) (convo.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	row := messageRow{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Metadata:  m.Metadata,
	}
	_, _, err := s.client.From("messages").Insert(row, false, "", "minimal", "").ExecuteWithContext(ctx)
	if err != nil {
		return convo.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns the session's messages oldest first.
func (s *SupabaseStore) ListMessages(ctx context.Context, sessionID string) ([]convo.Message, error) {
	var rows []messageRow
	_, err := s.client.From("messages").
		Select("*", "", false).
		Eq("session_id", sessionID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteToWithContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]convo.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, convo.Message{
			ID:        r.ID,
			SessionID: r.SessionID,
			Role:      convo.Role(r.Role),
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
			Metadata:  r.Metadata,
		})
	}
	return out, nil
}

// GetSummary returns the stored session summary, or nil when none exists yet.
func (s *SupabaseStore) GetSummary(ctx context.Context, sessionID string) (*convo.Summary, error) {
	var rows []summaryRow
	_, err := s.client.From("summaries").
		Select("*", "", false).
		Eq("session_id", sessionID).
		Limit(1, "").
		ExecuteToWithContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch summary: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &convo.Summary{
		SessionID:    r.SessionID,
		Summary:      r.Summary,
		MessageCount: r.MessageCount,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// PutSummary upserts the session summary.
func (s *SupabaseStore) PutSummary(ctx context.Context, sum convo.Summary) error {
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now().UTC()
	}
	row := summaryRow{
		SessionID:    sum.SessionID,
		Summary:      sum.Summary,
		MessageCount: sum.MessageCount,
		UpdatedAt:    sum.UpdatedAt,
	}
	_, _, err := s.client.From("summaries").Insert(row, true, "session_id", "minimal", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

// GetVoiceSettings returns the session's stored voice tuning, or nil when the
// session still runs on defaults.
func (s *SupabaseStore) GetVoiceSettings(ctx context.Context, sessionID string) (*convo.VoiceSettings, error) {
	var rows []voiceRow
	_, err := s.client.From("voice_preferences").
		Select("*", "", false).
		Eq("session_id", sessionID).
		Limit(1, "").
		ExecuteToWithContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch voice preferences: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &convo.VoiceSettings{Voice: rows[0].Voice, Rate: rows[0].Rate, Pitch: rows[0].Pitch}, nil
}

// PutVoiceSettings upserts the session's voice tuning.
func (s *SupabaseStore) PutVoiceSettings(ctx context.Context, sessionID string, vs convo.VoiceSettings) error {
	row := voiceRow{SessionID: sessionID, Voice: vs.Voice, Rate: vs.Rate, Pitch: vs.Pitch}
	_, _, err := s.client.From("voice_preferences").Insert(row, true, "session_id", "minimal", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert voice preferences: %w", err)
	}
	return nil
}

// LoadSessionID returns the session previously bound to the device, or empty
// when the device is new.
func (s *SupabaseStore) LoadSessionID(ctx context.Context, deviceID string) (string, error) {
	var rows []deviceSessionRow
	_, err := s.client.From("device_sessions").
		Select("*", "", false).
		Eq("device_id", deviceID).
		Limit(1, "").
		ExecuteToWithContext(ctx, &rows)
	if err != nil {
		return "", fmt.Errorf("failed to fetch device session: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].SessionID, nil
}

// SaveSessionID binds the device to a session for future reconnects.
func (s *SupabaseStore) SaveSessionID(ctx context.Context, deviceID, sessionID string) error {
	row := deviceSessionRow{DeviceID: deviceID, SessionID: sessionID, UpdatedAt: time.Now().UTC()}
	_, _, err := s.client.From("device_sessions").Insert(row, true, "device_id", "minimal", "").ExecuteWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert device session: %w", err)
	}
	return nil
}
