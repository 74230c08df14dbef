package ports

import (
	"context"
	"io"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

// AnalysisProvider abstracts the multimodal model behind the pipeline.
// Implementations never return an error: every fault is reported as a
// failed outcome.
type AnalysisProvider interface {
	// Extract reads structured facts from a single screenshot.
	Extract(ctx context.Context, kind domain.AnalysisKind, image domain.FileRef) domain.AnalysisOutcome

	// Analyze assesses condition from one or more photos.
	Analyze(ctx context.Context, kind domain.AnalysisKind, images []domain.FileRef) domain.AnalysisOutcome

	// SynthesizePriceNarrative turns the rendered inspection document into
	// an advisory price hint.
	SynthesizePriceNarrative(ctx context.Context, document string) domain.NarrativeOutcome
}

// TaskStore persists inspection tasks.
type TaskStore interface {
	// CreateTask stores a new PENDING task and returns it.
	CreateTask(ctx context.Context, inputs domain.TaskInputs) (domain.Task, error)

	GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error)

	// ClaimTask moves a PENDING task to PROCESSING. It returns
	// ErrTaskNotClaimable when the task is in any other status.
	ClaimTask(ctx context.Context, id domain.TaskID) (domain.Task, error)

	// SetStatus applies a validated transition. errMsg is stored for FAILED.
	SetStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus, errMsg string) error

	// SetReport attaches the report and completes a PROCESSING task.
	SetReport(ctx context.Context, id domain.TaskID, report domain.Report) error

	// UpdateProgress records advisory progress for a PROCESSING task.
	UpdateProgress(ctx context.Context, id domain.TaskID, progress int, stage string) error

	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, int, error)

	// ListTasksBefore returns ids of tasks in status whose reference time
	// (started_at for PROCESSING, created_at otherwise) is before cutoff.
	ListTasksBefore(ctx context.Context, status domain.TaskStatus, cutoff time.Time) ([]domain.TaskID, error)
}

// Delivery is one leased queue message.
type Delivery struct {
	TaskID  domain.TaskID
	Attempt int
}

// JobQueue delivers task ids at least once.
type JobQueue interface {
	Enqueue(ctx context.Context, id domain.TaskID) error
	Dequeue(ctx context.Context) (Delivery, error)
	Ack(id domain.TaskID)
	Nack(id domain.TaskID)
}

// FileStore keeps uploaded images.
type FileStore interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (domain.FileRef, error)
	Open(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// PriceCatalog serves base prices and the deduction rule table.
type PriceCatalog interface {
	LookupBasePrice(ctx context.Context, brand, model, storage string) (float64, error)
	ListPricingRules(ctx context.Context) ([]domain.PricingRule, error)
	UpsertDeviceModel(ctx context.Context, m domain.DeviceModel) error
	ListDeviceModels(ctx context.Context) ([]domain.DeviceModel, error)
	SavePricingRule(ctx context.Context, r domain.PricingRule) error
}

// SettingsRepository is the minimal persistence the settings store needs.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
