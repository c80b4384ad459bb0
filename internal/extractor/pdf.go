package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"pdfchat-backend/models"
	"pdfchat-backend/utils"
)

// maxPDFBytes caps in-memory extraction to avoid OOM on hostile input.
const maxPDFBytes = 200 << 20

// Extraction is the per-page output of PDF text extraction, together
// with the document identity derived from the raw bytes.
type Extraction struct {
	Pages    []string
	FullText string
	Source   models.SourceDocument
}

// PDFExtractor turns a PDF file into per-page raw text.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract reads the file at path, hashes its raw bytes and extracts one
// text entry per page in document order. Pages are returned raw; callers
// run Normalize before chunking.
func (e *PDFExtractor) Extract(path string) (*Extraction, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if stat.Size() > maxPDFBytes {
		return nil, fmt.Errorf("pdf too large for in-memory extraction")
	}

	hash, err := utils.HashFile(path)
	if err != nil {
		return nil, err
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	var full strings.Builder

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// keep page alignment; a failed page contributes no text
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
		full.WriteString(text)
		full.WriteString("\n")
	}

	return &Extraction{
		Pages:    pages,
		FullText: full.String(),
		Source: models.SourceDocument{
			Name:        filepath.Base(path),
			Path:        path,
			Format:      "pdf",
			ContentHash: hash,
		},
	}, nil
}
