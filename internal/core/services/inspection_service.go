package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

// Multipart field names of the submission form.
const (
	FieldAboutMachine  = "about_machine_image"
	FieldMachineType   = "machine_type_image"
	FieldProductDate   = "product_date_image"
	FieldBatteryHealth = "battery_health_image"
	FieldAppearance    = "appearance_images"
	FieldScreen        = "screen_image"
	FieldCameraLens    = "camera_lens_images"
	FieldFlashlight    = "flashlight_image"
)

var singleImageFields = []string{FieldAboutMachine, FieldMachineType, FieldProductDate, FieldBatteryHealth, FieldScreen, FieldFlashlight}

var multiImageFields = []string{FieldAppearance, FieldCameraLens}

// UploadConfig limits accepted files.
type UploadConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxFileSize:       10 << 20,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"},
	}
}

// Upload is one file part of a submission.
type Upload struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// Submission is a parsed inspection request.
type Submission struct {
	BasicInfo domain.BasicInfo
	UserNotes string
	Files     map[string][]Upload
}

// InspectionService is the entry point for submitting and reading tasks.
type InspectionService struct {
	logger *slog.Logger
	store  ports.TaskStore
	files  ports.FileStore
	queue  ports.JobQueue
	events *EventBus
	cfg    UploadConfig
	now    func() time.Time
}

func NewInspectionService(
	logger *slog.Logger,
	store ports.TaskStore,
	files ports.FileStore,
	queue ports.JobQueue,
	events *EventBus,
	cfg UploadConfig,
) *InspectionService {
	def := DefaultUploadConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = def.AllowedExtensions
	}
	return &InspectionService{
		logger: logger,
		store:  store,
		files:  files,
		queue:  queue,
		events: events,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Submit validates and stores the uploads, creates a PENDING task and
// enqueues it. Nothing is left behind when it returns an error.
func (s *InspectionService) Submit(ctx context.Context, sub Submission) (domain.Task, error) {
	if err := s.validate(sub); err != nil {
		return domain.Task{}, err
	}

	batch := uuid.New().String()
	prefix := fmt.Sprintf("inspections/%s/", batch)

	files, err := s.storeAll(ctx, prefix, sub.Files)
	if err != nil {
		s.cleanup(prefix)
		return domain.Task{}, err
	}

	inputs := domain.TaskInputs{
		BasicInfo: domain.BasicInfo{
			Brand:              strings.TrimSpace(sub.BasicInfo.Brand),
			Model:              strings.TrimSpace(sub.BasicInfo.Model),
			Storage:            strings.TrimSpace(sub.BasicInfo.Storage),
			AccessoryCondition: strings.TrimSpace(sub.BasicInfo.AccessoryCondition),
		},
		Files:       files,
		UserNotes:   strings.TrimSpace(sub.UserNotes),
		SubmittedAt: s.now().UTC(),
	}

	task, err := s.store.CreateTask(ctx, inputs)
	if err != nil {
		s.cleanup(prefix)
		return domain.Task{}, fmt.Errorf("failed to save task: %w", err)
	}
	s.events.PublishStatus(task.ID, domain.TaskStatusPending, 0, "", "")

	if err := s.queue.Enqueue(ctx, task.ID); err != nil {
		// The task is persisted; recovery will deliver it later.
		s.logger.Warn("task stored but not enqueued", "task_id", task.ID, "error", err)
	}

	s.logger.Info("inspection submitted", "task_id", task.ID, "brand", inputs.BasicInfo.Brand, "model", inputs.BasicInfo.Model)
	return task, nil
}

func (s *InspectionService) Get(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *InspectionService) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, domain.NewInputError("status", "unknown status %q", filter.Status)
	}
	return s.store.ListTasks(ctx, filter.Normalize())
}

func (s *InspectionService) validate(sub Submission) error {
	required := map[string]string{
		"brand":               sub.BasicInfo.Brand,
		"model":               sub.BasicInfo.Model,
		"storage":             sub.BasicInfo.Storage,
		"accessory_condition": sub.BasicInfo.AccessoryCondition,
	}
	for _, field := range []string{"brand", "model", "storage", "accessory_condition"} {
		if strings.TrimSpace(required[field]) == "" {
			return domain.NewInputError(field, "is required")
		}
	}

	for _, field := range singleImageFields {
		switch n := len(sub.Files[field]); {
		case n == 0:
			return domain.NewInputError(field, "is required")
		case n > 1:
			return domain.NewInputError(field, "expects exactly one file, got %d", n)
		}
	}
	for _, field := range multiImageFields {
		if len(sub.Files[field]) == 0 {
			return domain.NewInputError(field, "at least one file is required")
		}
	}

	for field, uploads := range sub.Files {
		for _, up := range uploads {
			if err := s.checkUpload(field, up); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *InspectionService) checkUpload(field string, up Upload) error {
	if up.Filename == "" {
		return domain.NewInputError(field, "file name is empty")
	}
	ext := strings.ToLower(filepath.Ext(up.Filename))
	allowed := false
	for _, a := range s.cfg.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.NewInputError(field, "unsupported file type %q, allowed: %s", ext, strings.Join(s.cfg.AllowedExtensions, ", "))
	}
	if up.Size > s.cfg.MaxFileSize {
		return domain.NewInputError(field, "file %s exceeds %d bytes", up.Filename, s.cfg.MaxFileSize)
	}
	return nil
}

func (s *InspectionService) storeAll(ctx context.Context, prefix string, uploads map[string][]Upload) (domain.InspectionFiles, error) {
	var files domain.InspectionFiles
	refs := make(map[string][]domain.FileRef, len(uploads))

	for _, field := range append(append([]string{}, singleImageFields...), multiImageFields...) {
		for _, up := range uploads[field] {
			ref, err := s.storeOne(ctx, prefix, field, up)
			if err != nil {
				return files, err
			}
			refs[field] = append(refs[field], ref)
		}
	}

	first := func(field string) domain.FileRef { return refs[field][0] }
	files = domain.InspectionFiles{
		AboutMachine:  first(FieldAboutMachine),
		MachineType:   first(FieldMachineType),
		ProductDate:   first(FieldProductDate),
		BatteryHealth: first(FieldBatteryHealth),
		Appearance:    refs[FieldAppearance],
		Screen:        first(FieldScreen),
		CameraLens:    refs[FieldCameraLens],
		Flashlight:    first(FieldFlashlight),
	}
	return files, nil
}

func (s *InspectionService) storeOne(ctx context.Context, prefix, field string, up Upload) (domain.FileRef, error) {
	rc, err := up.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", field, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.cfg.MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", field, err)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return "", domain.NewInputError(field, "file %s exceeds %d bytes", up.Filename, s.cfg.MaxFileSize)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", domain.NewInputError(field, "file %s is not an image (detected %s)", up.Filename, mt.String())
	}

	key := prefix + uuid.New().String() + strings.ToLower(filepath.Ext(up.Filename))
	ref, err := s.files.Save(ctx, key, bytes.NewReader(data), mt.String())
	if err != nil {
		return "", fmt.Errorf("store %s: %w", field, err)
	}
	return ref, nil
}

func (s *InspectionService) cleanup(prefix string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.files.DeletePrefix(ctx, prefix); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to remove uploads", "prefix", prefix, "error", err)
	}
}
