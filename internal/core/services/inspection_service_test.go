package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func upload(name string, data []byte) Upload {
	return Upload{
		Filename: name,
		Size:     int64(len(data)),
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func validSubmission() Submission {
	files := map[string][]Upload{
		FieldAppearance: {upload("front.png", pngHeader), upload("back.png", pngHeader)},
		FieldCameraLens: {upload("lens.png", pngHeader)},
	}
	for _, f := range singleImageFields {
		files[f] = []Upload{upload(f+".png", pngHeader)}
	}
	return Submission{
		BasicInfo: domain.BasicInfo{Brand: " Apple ", Model: "iPhone 13", Storage: "128GB", AccessoryCondition: "box and cable"},
		UserNotes: "no repairs",
		Files:     files,
	}
}

type inspectionFixture struct {
	store *memStore
	files *memFiles
	queue *JobQueue
	svc   *InspectionService
}

func newInspectionFixture() *inspectionFixture {
	logger := testLogger()
	f := &inspectionFixture{
		store: newMemStore(),
		files: newMemFiles(),
		queue: NewJobQueue(logger, QueueConfig{Capacity: 4}),
	}
	f.svc = NewInspectionService(logger, f.store, f.files, f.queue, NewEventBus(logger), UploadConfig{MaxFileSize: 1 << 10})
	return f
}

func TestInspectionService_Submit(t *testing.T) {
	f := newInspectionFixture()

	task, err := f.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, "Apple", task.Inputs.BasicInfo.Brand)
	assert.Len(t, task.Inputs.Files.Appearance, 2)
	assert.Len(t, task.Inputs.Files.All(), 9)
	assert.Equal(t, 9, f.files.count())
	for _, ref := range task.Inputs.Files.All() {
		assert.Contains(t, string(ref), "inspections/")
	}

	assert.Equal(t, 1, f.queue.Len())
	d, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.TaskID)
}

func TestInspectionService_SubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		field  string
	}{
		{"missing brand", func(s *Submission) { s.BasicInfo.Brand = "  " }, "brand"},
		{"missing accessory condition", func(s *Submission) { s.BasicInfo.AccessoryCondition = "" }, "accessory_condition"},
		{"missing screen", func(s *Submission) { delete(s.Files, FieldScreen) }, FieldScreen},
		{"two batteries", func(s *Submission) {
			s.Files[FieldBatteryHealth] = append(s.Files[FieldBatteryHealth], upload("b2.png", pngHeader))
		}, FieldBatteryHealth},
		{"no appearance", func(s *Submission) { s.Files[FieldAppearance] = nil }, FieldAppearance},
		{"bad extension", func(s *Submission) { s.Files[FieldFlashlight] = []Upload{upload("flash.tiff", pngHeader)} }, FieldFlashlight},
		{"declared too large", func(s *Submission) {
			up := upload("big.png", pngHeader)
			up.Size = 2 << 10
			s.Files[FieldScreen] = []Upload{up}
		}, FieldScreen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInspectionFixture()
			sub := validSubmission()
			tt.mutate(&sub)

			_, err := f.svc.Submit(context.Background(), sub)

			var inputErr *domain.InputError
			require.True(t, errors.As(err, &inputErr), "got %v", err)
			assert.Equal(t, tt.field, inputErr.Field)
			assert.Equal(t, 0, f.files.count())
			assert.Equal(t, 0, f.queue.Len())
		})
	}
}

func TestInspectionService_RejectsNonImageAndCleansUp(t *testing.T) {
	f := newInspectionFixture()
	sub := validSubmission()
	sub.Files[FieldFlashlight] = []Upload{upload("flash.png", []byte("#!/bin/sh\necho hi\n"))}

	_, err := f.svc.Submit(context.Background(), sub)

	var inputErr *domain.InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, FieldFlashlight, inputErr.Field)
	assert.Equal(t, 0, f.files.count(), "earlier uploads are removed")

	tasks, total, err := f.store.ListTasks(context.Background(), domain.TaskFilter{}.Normalize())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, tasks)
}

func TestInspectionService_StorageFailure(t *testing.T) {
	f := newInspectionFixture()
	f.files.saveErr = errors.New("disk full")

	_, err := f.svc.Submit(context.Background(), validSubmission())

	require.Error(t, err)
	var inputErr *domain.InputError
	assert.False(t, errors.As(err, &inputErr))
	assert.Equal(t, 0, f.queue.Len())
}

func TestInspectionService_QueueFullStillPersists(t *testing.T) {
	f := newInspectionFixture()
	for _, id := range []domain.TaskID{"a", "b", "c", "d"} {
		require.NoError(t, f.queue.Enqueue(context.Background(), id))
	}

	task, err := f.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	stored, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
}

func TestInspectionService_List(t *testing.T) {
	f := newInspectionFixture()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Submit(context.Background(), validSubmission())
		require.NoError(t, err)
	}

	tasks, total, err := f.svc.List(context.Background(), domain.TaskFilter{Status: domain.TaskStatusPending, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, tasks, 2)

	_, _, err = f.svc.List(context.Background(), domain.TaskFilter{Status: "DONE"})
	var inputErr *domain.InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "status", inputErr.Field)
}
