package inbox

import (
	"context"
	"log/slog"

	"github.com/phrazzld/task-inbox/internal/events"
	"github.com/phrazzld/task-inbox/internal/platform/logger"
)

// IngestionHandler turns ingest events into tasks.
type IngestionHandler struct {
	svc    Service
	logger *slog.Logger
}

var _ events.EventHandler = (*IngestionHandler)(nil)

// NewIngestionHandler creates a handler that stores events through svc.
func NewIngestionHandler(svc Service, logger *slog.Logger) *IngestionHandler {
	if svc == nil {
		panic("svc cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "ingestion_handler")),
	}
}

// HandleEvent upserts by the event's source ID when it has one and creates a
// fresh task otherwise.
func (h *IngestionHandler) HandleEvent(ctx context.Context, event *events.IngestEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	log := logger.FromContextOrDefault(ctx, h.logger).With(
		slog.String("event_id", event.ID.String()),
		slog.String("inbox_id", event.InboxID))

	input := CreateTaskInput{
		Type:     event.Type,
		Title:    event.Title,
		Priority: event.Priority,
		Payload:  event.Payload,
	}

	var err error
	if event.SourceID != "" {
		_, err = h.svc.UpsertTask(ctx, event.InboxID, event.SourceID, input)
	} else {
		_, err = h.svc.CreateTask(ctx, event.InboxID, input)
	}
	if err != nil {
		log.Error("failed to ingest event", slog.String("error", err.Error()))
		return err
	}

	log.Debug("ingested event", slog.String("source_id", event.SourceID))
	return nil
}
