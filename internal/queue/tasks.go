package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"pdfchat-backend/internal/ingest"
	"pdfchat-backend/internal/logger"
)

const TaskIngestPDF = "pdf:ingest"

type IngestPDFPayload struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func NewIngestPDFTask(path, name string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPDFPayload{Path: path, Name: name})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestPDF,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingest"),
	), nil
}

type TaskProcessor struct {
	ingester *ingest.Service
}

func NewTaskProcessor(ingester *ingest.Service) *TaskProcessor {
	return &TaskProcessor{ingester: ingester}
}

func (p *TaskProcessor) HandleIngestPDF(ctx context.Context, t *asynq.Task) error {
	var payload IngestPDFPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing PDF ingest task", "name", payload.Name, "path", payload.Path)

	report, err := p.ingester.IngestFile(ctx, payload.Path)
	if err != nil {
		logger.Error("PDF ingest task failed", "name", payload.Name, "error", err)
		return err
	}

	logger.Info("PDF ingest task completed",
		"name", payload.Name,
		"chunks", report.Chunks,
		"points", report.PointsUpserted,
		"tokens", report.EmbeddingTokens)
	return nil
}
