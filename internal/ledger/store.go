package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"pdfchat-backend/internal/logger"
	"pdfchat-backend/models"
	"pdfchat-backend/utils"
)

const sessionSuffixLen = 8

// schema is applied on every startup; creation is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id        TEXT    NOT NULL,
	role              TEXT    NOT NULL CHECK (role IN ('user', 'assistant')),
	content           TEXT    NOT NULL,
	embedding_tokens  INTEGER NOT NULL DEFAULT 0,
	generation_tokens INTEGER NOT NULL DEFAULT 0,
	embedding_model   TEXT    NOT NULL DEFAULT '',
	generation_model  TEXT    NOT NULL DEFAULT '',
	quality_rating    TEXT    NOT NULL DEFAULT 'unset' CHECK (quality_rating IN ('good', 'bad', 'unset')),
	related_documents TEXT    NOT NULL DEFAULT 'null',
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns (session_id, id);
`

// Store persists conversation turns in SQLite. Turn ids are assigned by
// the store and are the only identifier feedback may target.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at path and applies
// the schema.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewSessionID mints a session identifier of the form
// {epoch-millis}_{random-suffix}.
func NewSessionID() string {
	suffix, err := utils.GenerateSecureRandomString(sessionSuffixLen)
	if err != nil {
		// crypto/rand failing is unrecoverable for id quality; fall back
		// to the timestamp alone rather than aborting the exchange
		suffix = "00000000"
	}
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), suffix)
}

// RecordTurn writes one turn and returns its store-assigned id.
func (s *Store) RecordTurn(ctx context.Context, sessionID string, role models.Role, content string, usage models.TurnUsage, related []models.RelatedDocument) (int64, error) {
	relatedJSON, err := json.Marshal(related)
	if err != nil {
		return 0, fmt.Errorf("encoding related documents: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns
			(session_id, role, content, embedding_tokens, generation_tokens,
			 embedding_model, generation_model, related_documents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(role), content,
		usage.EmbeddingTokens, usage.GenerationTokens,
		usage.EmbeddingModel, usage.GenerationModel,
		string(relatedJSON), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	return res.LastInsertId()
}

// RecordExchange is the per-request entry point: it resolves or mints
// the session id, writes the user turn then the assistant turn, and
// returns the resolved session id even when a write fails partway.
// Storage failures are logged, not raised, so a successful answer is
// never failed by bookkeeping.
func (s *Store) RecordExchange(ctx context.Context, sessionID, userMessage, assistantMessage string, userUsage, assistantUsage models.TurnUsage, related []models.RelatedDocument) string {
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	if _, err := s.RecordTurn(ctx, sessionID, models.RoleUser, userMessage, userUsage, nil); err != nil {
		logger.Error("Failed to persist user turn", "session_id", sessionID, "error", err)
		return sessionID
	}
	if _, err := s.RecordTurn(ctx, sessionID, models.RoleAssistant, assistantMessage, assistantUsage, related); err != nil {
		logger.Error("Failed to persist assistant turn", "session_id", sessionID, "error", err)
	}
	return sessionID
}

// RateAnswer sets the quality rating on an assistant turn. Rating an
// unknown or non-assistant id is a no-op, not an error; callers validate
// the rating value before calling.
func (s *Store) RateAnswer(ctx context.Context, turnID int64, rating models.Rating) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversation_turns
		SET quality_rating = ?
		WHERE id = ? AND role = 'assistant'`,
		string(rating), turnID,
	)
	if err != nil {
		return fmt.Errorf("updating rating: %w", err)
	}
	return nil
}

// GetHistory returns the session's turns, most recent first. An empty
// session id yields an empty sequence: history is always scoped to a
// session.
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if sessionID == "" {
		return []models.ConversationTurn{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, embedding_tokens, generation_tokens,
		       embedding_model, generation_model, quality_rating, related_documents, created_at
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// ListAll returns the most recent turns across all sessions.
func (s *Store) ListAll(ctx context.Context, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, embedding_tokens, generation_tokens,
		       embedding_model, generation_model, quality_rating, related_documents, created_at
		FROM conversation_turns
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]models.ConversationTurn, error) {
	turns := make([]models.ConversationTurn, 0)
	for rows.Next() {
		var (
			t           models.ConversationTurn
			role        string
			rating      string
			relatedJSON string
		)
		if err := rows.Scan(
			&t.ID, &t.SessionID, &role, &t.Content,
			&t.EmbeddingTokens, &t.GenerationTokens,
			&t.EmbeddingModel, &t.GenerationModel,
			&rating, &relatedJSON, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = models.Role(role)
		t.QualityRating = models.Rating(rating)
		if relatedJSON != "" && relatedJSON != "null" {
			if err := json.Unmarshal([]byte(relatedJSON), &t.RelatedDocuments); err != nil {
				logger.Warn("Malformed related_documents row", "turn_id", t.ID, "error", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
