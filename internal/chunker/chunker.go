package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"pdfchat-backend/models"
)

// Config drives the paragraph merge pass. HeadingPattern and
// MinParagraphLen are data, not constants, so the merge algorithm stays
// testable independently of any specific markup dialect.
type Config struct {
	// HeadingPattern matches the leading markup marker of a heading line.
	HeadingPattern string
	// MinParagraphLen is the length below which a paragraph is merged
	// forward into the accumulation buffer.
	MinParagraphLen int
	// ParagraphLevel enables the third hierarchy level.
	ParagraphLevel bool
}

// DefaultConfig matches markdown-style headings and a 100-character
// minimum paragraph length.
func DefaultConfig() Config {
	return Config{
		HeadingPattern:  `^#{1,6}\s`,
		MinParagraphLen: 100,
		ParagraphLevel:  true,
	}
}

// Builder decomposes a document's extracted text into a three-level
// hierarchy of chunks with deterministic identifiers.
type Builder struct {
	heading    *regexp.Regexp
	minLen     int
	paragraphs bool
}

var blankLineRegex = regexp.MustCompile(`\n[ \t]*\n+`)

func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.MinParagraphLen <= 0 {
		cfg.MinParagraphLen = 100
	}
	heading, err := regexp.Compile(cfg.HeadingPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid heading pattern: %w", err)
	}
	return &Builder{
		heading:    heading,
		minLen:     cfg.MinParagraphLen,
		paragraphs: cfg.ParagraphLevel,
	}, nil
}

// Build produces the document, page and paragraph chunks for one
// document. Identical inputs produce bit-identical output: chunk ids
// double as the de-duplication key at storage time, so re-ingesting an
// unchanged document must not create duplicate vectors.
func (b *Builder) Build(fullText string, pageTexts []string, src models.SourceDocument) []models.Chunk {
	chunks := make([]models.Chunk, 0, 1+2*len(pageTexts))

	docID := src.ContentHash
	chunks = append(chunks, models.Chunk{
		ID:        docID,
		Level:     models.LevelDocument,
		Text:      fullText,
		ParentIDs: []string{},
		Source:    src,
	})

	for i, pageText := range pageTexts {
		pageNumber := i + 1
		pageID := fmt.Sprintf("%s-%d", docID, pageNumber)
		chunks = append(chunks, models.Chunk{
			ID:         pageID,
			Level:      models.LevelPage,
			Text:       pageText,
			ParentIDs:  []string{docID},
			PageNumber: pageNumber,
			Source:     src,
		})

		if !b.paragraphs {
			continue
		}
		for ordinal, text := range b.mergeParagraphs(pageText) {
			chunks = append(chunks, models.Chunk{
				ID:             fmt.Sprintf("%s-%d", pageID, ordinal+1),
				Level:          models.LevelParagraph,
				Text:           text,
				ParentIDs:      []string{pageID},
				PageNumber:     pageNumber,
				ParagraphIndex: ordinal + 1,
				Source:         src,
			})
		}
	}

	return chunks
}

// mergeParagraphs splits page text on blank-line boundaries and applies
// the merge pass: a heading is joined with the next body paragraph, and
// paragraphs shorter than the minimum length accumulate until a long
// paragraph or heading is reached, then flush as one chunk.
func (b *Builder) mergeParagraphs(pageText string) []string {
	paragraphs := splitParagraphs(pageText)
	if len(paragraphs) == 0 {
		return nil
	}

	var (
		out     []string
		pending []string // short paragraphs awaiting flush
		heading string   // heading awaiting its body paragraph
	)

	flushPending := func() {
		if len(pending) > 0 {
			out = append(out, strings.Join(pending, "\n\n"))
			pending = pending[:0]
		}
	}

	for _, para := range paragraphs {
		if b.heading.MatchString(para) {
			flushPending()
			if heading != "" {
				// consecutive headings: the earlier one stands alone
				out = append(out, heading)
			}
			heading = para
			continue
		}
		if heading != "" {
			out = append(out, heading+"\n\n"+para)
			heading = ""
			continue
		}
		if len(para) < b.minLen {
			pending = append(pending, para)
			continue
		}
		flushPending()
		out = append(out, para)
	}

	flushPending()
	if heading != "" {
		out = append(out, heading)
	}
	return out
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLineRegex.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
