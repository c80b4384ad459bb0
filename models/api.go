package models

// ChatRequest is the /chat request body.
type ChatRequest struct {
	Prompt         string         `json:"prompt" binding:"required,min=1,max=4000"`
	SessionID      string         `json:"session_id,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
}

// ChatResponse is the /chat response body.
type ChatResponse struct {
	Query            string            `json:"query"`
	Answer           string            `json:"answer"`
	SessionID        string            `json:"session_id"`
	Results          []SearchResult    `json:"results"`
	Count            int               `json:"count"`
	TokensUsed       int               `json:"tokens_used"`
	RelatedDocuments []RelatedDocument `json:"related_documents"`
}

// FeedbackRequest is the /feedback request body. TurnID must reference an
// assistant turn; rating is validated at the boundary.
type FeedbackRequest struct {
	TurnID int64  `json:"turn_id" binding:"required"`
	Rating string `json:"rating" binding:"required"`
}

// HistoryResponse is the /history response body.
type HistoryResponse struct {
	History   []ConversationTurn `json:"history"`
	Count     int                `json:"count"`
	SessionID string             `json:"session_id"`
}

// IndexEntry is one stored vector point as reported by /entries.
type IndexEntry struct {
	ID      string       `json:"id"`
	Payload ChunkPayload `json:"payload"`
}

// EntriesResponse is the /entries response body.
type EntriesResponse struct {
	Entries []IndexEntry `json:"entries"`
	Count   int          `json:"count"`
}
