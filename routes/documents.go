package routes

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"pdfchat-backend/internal/config"
	"pdfchat-backend/internal/ingest"
	"pdfchat-backend/internal/logger"
	"pdfchat-backend/internal/queue"
	"pdfchat-backend/models"
	"pdfchat-backend/utils"
)

// SetupDocumentRoutes wires document ingestion and index inspection.
// Small uploads are processed inline; large ones go through the asynq
// queue. queueClient may be nil, in which case everything is inline.
func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, ingester *ingest.Service, queueClient *asynq.Client) {
	router.POST("/documents", func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithBadRequest(c, "File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("pdf")
		if err != nil {
			utils.RespondWithBadRequest(c, "No PDF file provided", nil)
			return
		}
		defer file.Close()

		ct := header.Header.Get("Content-Type")
		if !strings.Contains(ct, "pdf") && !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			utils.RespondWithBadRequest(c, "Only PDF files are allowed", nil)
			return
		}
		if header.Size > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "File size exceeds maximum limit", nil)
			return
		}

		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil || string(headerBuf[:4]) != "%PDF" {
			utils.RespondWithBadRequest(c, "File does not appear to be a valid PDF", nil)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
			return
		}

		path, err := saveUpload(cfg.FileStorageDir, header.Filename, file)
		if err != nil {
			logger.Error("Failed to store upload", "name", header.Filename, "error", err)
			utils.RespondWithInternalError(c, "Failed to store uploaded file", nil)
			return
		}

		if queueClient != nil && header.Size > cfg.SyncProcessingLimit {
			task, err := queue.NewIngestPDFTask(path, header.Filename)
			if err != nil {
				utils.RespondWithInternalError(c, "Failed to create ingest task", nil)
				return
			}
			info, err := queueClient.Enqueue(task)
			if err != nil {
				logger.Error("Failed to enqueue ingest task", "name", header.Filename, "error", err)
				utils.RespondWithInternalError(c, "Failed to enqueue ingest task", nil)
				return
			}

			logger.Info("Queued PDF for ingestion", "name", header.Filename, "task_id", info.ID)
			c.JSON(http.StatusAccepted, gin.H{
				"status":  "queued",
				"name":    header.Filename,
				"task_id": info.ID,
			})
			return
		}

		report, err := ingester.IngestFile(c.Request.Context(), path)
		if err != nil {
			logger.Error("Inline ingestion failed", "name", header.Filename, "error", err)
			utils.RespondWithInternalError(c, "Failed to ingest document", gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ingested",
			"report": report,
		})
	})

	router.GET("/entries", func(c *gin.Context) {
		entries, err := ingester.ListEntries(c.Request.Context(), limitQuery(c, 0))
		if err != nil {
			logger.Error("Failed to list index entries", "error", err)
			utils.RespondWithInternalError(c, "Failed to list index entries", nil)
			return
		}

		c.JSON(http.StatusOK, models.EntriesResponse{Entries: entries, Count: len(entries)})
	})
}

func saveUpload(dir, name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(name)
	path := filepath.Join(dir, fmt.Sprintf("%d_%s", time.Now().UnixMilli(), base))

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
