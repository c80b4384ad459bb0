package models

import "time"

// Role of one conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Rating is the post-hoc quality feedback on an assistant turn.
type Rating string

const (
	RatingGood  Rating = "good"
	RatingBad   Rating = "bad"
	RatingUnset Rating = "unset"
)

// Valid reports whether r is a rating a caller may submit.
func (r Rating) Valid() bool {
	return r == RatingGood || r == RatingBad
}

// RelatedDocument records which source document grounded an answer.
type RelatedDocument struct {
	Name         string  `json:"name"`
	Locator      string  `json:"locator"`
	Score        float64 `json:"score"`
	DocumentHash string  `json:"document_hash"`
}

// ConversationTurn is one role's contribution to a session, as persisted
// in the ledger. ID is assigned by the store and is the only identifier
// feedback may target.
type ConversationTurn struct {
	ID               int64             `json:"id"`
	SessionID        string            `json:"session_id"`
	Role             Role              `json:"role"`
	Content          string            `json:"content"`
	EmbeddingTokens  int               `json:"embedding_tokens"`
	GenerationTokens int               `json:"generation_tokens"`
	EmbeddingModel   string            `json:"embedding_model,omitempty"`
	GenerationModel  string            `json:"generation_model,omitempty"`
	QualityRating    Rating            `json:"quality_rating"`
	RelatedDocuments []RelatedDocument `json:"related_documents,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// TurnUsage carries the token accounting and model identifiers for one turn.
type TurnUsage struct {
	EmbeddingTokens  int
	GenerationTokens int
	EmbeddingModel   string
	GenerationModel  string
}
