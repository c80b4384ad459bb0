package models

// ChunkLevel is the granularity of a retrievable text unit.
type ChunkLevel string

const (
	LevelDocument  ChunkLevel = "document"
	LevelPage      ChunkLevel = "page"
	LevelParagraph ChunkLevel = "paragraph"
)

// SourceDocument identifies the file a chunk was built from.
// ContentHash is the sha256 of the raw bytes and doubles as the
// document's stable identity across re-ingestion.
type SourceDocument struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
}

// Chunk is one addressable unit of document text. IDs are deterministic:
// the document chunk carries the content hash, page chunks append the
// 1-based page number, paragraph chunks append the 1-based emission
// ordinal. Re-ingesting an unchanged document reproduces identical ids.
type Chunk struct {
	ID             string         `json:"id"`
	Level          ChunkLevel     `json:"level"`
	Text           string         `json:"text"`
	ParentIDs      []string       `json:"parent_ids"`
	PageNumber     int            `json:"page_number,omitempty"`
	ParagraphIndex int            `json:"paragraph_index,omitempty"`
	Source         SourceDocument `json:"source"`
	TokensUsed     int            `json:"tokens_used"`
}

// SearchResult is one thresholded nearest-neighbor hit. Not persisted.
type SearchResult struct {
	Score   float64      `json:"score"`
	Payload ChunkPayload `json:"payload"`
}

// ChunkPayload is the chunk-derived payload stored alongside each vector.
type ChunkPayload struct {
	ChunkID        string     `json:"chunk_id"`
	Level          ChunkLevel `json:"level"`
	Text           string     `json:"text"`
	ParentIDs      []string   `json:"parent_ids,omitempty"`
	PageNumber     int        `json:"page_number,omitempty"`
	ParagraphIndex int        `json:"paragraph_index,omitempty"`
	DocumentName   string     `json:"document_name"`
	DocumentPath   string     `json:"document_path"`
	DocumentHash   string     `json:"document_hash"`
	TokensUsed     int        `json:"tokens_used,omitempty"`
}

// PayloadFromChunk flattens a chunk into its vector-store payload.
func PayloadFromChunk(c Chunk) ChunkPayload {
	return ChunkPayload{
		ChunkID:        c.ID,
		Level:          c.Level,
		Text:           c.Text,
		ParentIDs:      c.ParentIDs,
		PageNumber:     c.PageNumber,
		ParagraphIndex: c.ParagraphIndex,
		DocumentName:   c.Source.Name,
		DocumentPath:   c.Source.Path,
		DocumentHash:   c.Source.ContentHash,
		TokensUsed:     c.TokensUsed,
	}
}
