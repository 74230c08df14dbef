package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func decodeStatus(t *testing.T, e Event) StatusPayload {
	t.Helper()
	var p StatusPayload
	require.NoError(t, json.Unmarshal([]byte(e.Data), &p))
	return p
}

// memStore is an in-memory TaskStore with the same conditional semantics
// as the SQL store.
type memStore struct {
	mu    sync.Mutex
	tasks map[domain.TaskID]domain.Task
	order []domain.TaskID

	setReportErr error
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[domain.TaskID]domain.Task)}
}

var _ ports.TaskStore = (*memStore)(nil)

func (s *memStore) CreateTask(_ context.Context, inputs domain.TaskInputs) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	t := domain.Task{
		ID:        domain.TaskID(uuid.New().String()),
		Status:    domain.TaskStatusPending,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return t, nil
}

func (s *memStore) put(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
}

func (s *memStore) GetTask(_ context.Context, id domain.TaskID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, nil
}

func (s *memStore) ClaimTask(_ context.Context, id domain.TaskID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return domain.Task{}, domain.ErrTaskNotClaimable
	}
	now := time.Now().UTC()
	t.Status = domain.TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
	s.tasks[id] = t
	return t, nil
}

func (s *memStore) SetStatus(_ context.Context, id domain.TaskID, status domain.TaskStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if !t.Status.CanTransitionTo(status) {
		return domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	t.Status = status
	t.UpdatedAt = now
	if status == domain.TaskStatusFailed {
		t.Error = &errMsg
	}
	if status.IsTerminal() && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	s.tasks[id] = t
	return nil
}

func (s *memStore) SetReport(_ context.Context, id domain.TaskID, report domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setReportErr != nil {
		return s.setReportErr
	}
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	t.Status = domain.TaskStatusCompleted
	t.Report = &report
	t.Progress = 100
	t.UpdatedAt = now
	t.CompletedAt = &now
	s.tasks[id] = t
	return nil
}

func (s *memStore) UpdateProgress(_ context.Context, id domain.TaskID, progress int, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return domain.ErrInvalidTransition
	}
	t.Progress = progress
	t.Stage = stage
	s.tasks[id] = t
	return nil
}

func (s *memStore) ListTasks(_ context.Context, f domain.TaskFilter) ([]domain.Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if f.Status == "" || t.Status == f.Status {
			all = append(all, t)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset >= total {
		return []domain.Task{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (s *memStore) ListTasksBefore(_ context.Context, status domain.TaskStatus, cutoff time.Time) ([]domain.TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskID
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != status {
			continue
		}
		ref := t.CreatedAt
		if status == domain.TaskStatusProcessing && t.StartedAt != nil {
			ref = *t.StartedAt
		}
		if ref.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

// fakeProvider answers from per-kind functions; unset kinds succeed with
// canned payloads.
type fakeProvider struct {
	mu        sync.Mutex
	calls     map[domain.AnalysisKind]int
	documents []string

	override  map[domain.AnalysisKind]func(ctx context.Context, images []domain.FileRef) domain.AnalysisOutcome
	narrative func(ctx context.Context, doc string) domain.NarrativeOutcome
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:    make(map[domain.AnalysisKind]int),
		override: make(map[domain.AnalysisKind]func(context.Context, []domain.FileRef) domain.AnalysisOutcome),
	}
}

func (p *fakeProvider) record(kind domain.AnalysisKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[kind]++
}

func (p *fakeProvider) callCount(kind domain.AnalysisKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

func (p *fakeProvider) Extract(ctx context.Context, kind domain.AnalysisKind, image domain.FileRef) domain.AnalysisOutcome {
	return p.Analyze(ctx, kind, []domain.FileRef{image})
}

func (p *fakeProvider) Analyze(ctx context.Context, kind domain.AnalysisKind, images []domain.FileRef) domain.AnalysisOutcome {
	p.record(kind)
	if fn, ok := p.override[kind]; ok {
		return fn(ctx, images)
	}
	return domain.Succeeded(kind, cannedPayload(kind, images))
}

func (p *fakeProvider) SynthesizePriceNarrative(ctx context.Context, doc string) domain.NarrativeOutcome {
	p.mu.Lock()
	p.documents = append(p.documents, doc)
	p.mu.Unlock()
	if p.narrative != nil {
		return p.narrative(ctx, doc)
	}
	return domain.NarrativeOutcome{Success: true, PriceHint: "3200-3400", Notes: "minor wear"}
}

// cannedPayload embeds the first image ref in free-text fields so tests can
// detect cross-task leakage.
func cannedPayload(kind domain.AnalysisKind, images []domain.FileRef) domain.Payload {
	tag := ""
	if len(images) > 0 {
		tag = string(images[0])
	}
	switch kind {
	case domain.KindDeviceInfo, domain.KindMachineType:
		return domain.DeviceIdentity{Brand: "Apple", Model: "iPhone 13", SystemVersion: "iOS 17.5", StorageInfo: "Total 128GB, Available 64GB", OtherInfo: tag, Source: kind}
	case domain.KindProductDate:
		return domain.ProductDate{ProductDate: "2021-10", FirstUseDate: "2021-11", OtherInfo: tag}
	case domain.KindBattery:
		return domain.BatteryInfo{MaximumCapacity: "65%", BatteryHealth: "service recommended", PeakPerformance: "normal", ChargeCycles: "812", Recommendations: tag}
	case domain.KindAppearance:
		return domain.AppearanceAnalysis{OverallCondition: "excellent", Issues: []string{"scratch on back"}, Detailed: domain.AppearanceDetail{Front: tag, Back: "light scratch", Edges: "clean"}, Suggestions: []string{"use a case"}}
	case domain.KindScreen:
		return domain.ScreenAnalysis{ScreenCondition: "excellent", Issues: []string{}, DisplayQuality: tag, Functionality: "normal"}
	case domain.KindCameraLens:
		return domain.CameraAnalysis{LensCondition: "excellent", Issues: []string{}, Cleanliness: tag, PhysicalDamage: "none"}
	case domain.KindFlashlight:
		return domain.FlashlightAnalysis{FlashlightCondition: "working", Functionality: "normal", Brightness: tag, Issues: []string{}}
	}
	return nil
}

// memFiles is an in-memory FileStore.
type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newMemFiles() *memFiles {
	return &memFiles{objects: make(map[string][]byte)}
}

func (f *memFiles) Save(_ context.Context, key string, r io.Reader, _ string) (domain.FileRef, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return domain.FileRef(key), nil
}

func (f *memFiles) Open(_ context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[string(ref)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *memFiles) DeletePrefix(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			delete(f.objects, k)
		}
	}
	return nil
}

func (f *memFiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// memCatalog is an in-memory PriceCatalog.
type memCatalog struct {
	mu     sync.Mutex
	prices map[string]float64
	models []domain.DeviceModel
	rules  []domain.PricingRule

	lookup func() // optional hook run inside LookupBasePrice
}

func newMemCatalog() *memCatalog {
	return &memCatalog{prices: make(map[string]float64)}
}

func catalogKey(brand, model, storage string) string {
	return strings.ToLower(brand + "|" + model + "|" + storage)
}

func (c *memCatalog) LookupBasePrice(_ context.Context, brand, model, storage string) (float64, error) {
	if c.lookup != nil {
		c.lookup()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[catalogKey(brand, model, storage)]
	if !ok {
		return 0, domain.ErrDeviceModelNotFound
	}
	return p, nil
}

func (c *memCatalog) ListPricingRules(_ context.Context) ([]domain.PricingRule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PricingRule(nil), c.rules...), nil
}

func (c *memCatalog) UpsertDeviceModel(_ context.Context, m domain.DeviceModel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catalogKey(m.Brand, m.Model, m.StorageCapacity)
	if _, exists := c.prices[key]; !exists {
		c.models = append(c.models, m)
	}
	c.prices[key] = m.BasePrice
	return nil
}

func (c *memCatalog) ListDeviceModels(_ context.Context) ([]domain.DeviceModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DeviceModel, 0, len(c.models))
	for _, m := range c.models {
		m.BasePrice = c.prices[catalogKey(m.Brand, m.Model, m.StorageCapacity)]
		out = append(out, m)
	}
	return out, nil
}

func (c *memCatalog) SavePricingRule(_ context.Context, r domain.PricingRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.rules {
		if existing.ID == r.ID {
			c.rules[i] = r
			return nil
		}
	}
	c.rules = append(c.rules, r)
	return nil
}

func sampleInputs(tag string) domain.TaskInputs {
	ref := func(name string) domain.FileRef { return domain.FileRef(tag + "/" + name + ".png") }
	return domain.TaskInputs{
		BasicInfo: domain.BasicInfo{Brand: "Apple", Model: "iPhone 13", Storage: "128GB", AccessoryCondition: "charger included"},
		Files: domain.InspectionFiles{
			AboutMachine:  ref("about"),
			MachineType:   ref("type"),
			ProductDate:   ref("date"),
			BatteryHealth: ref("battery"),
			Appearance:    []domain.FileRef{ref("front"), ref("back")},
			Screen:        ref("screen"),
			CameraLens:    []domain.FileRef{ref("lens")},
			Flashlight:    ref("flash"),
		},
		UserNotes:   "bought in 2021",
		SubmittedAt: time.Now().UTC(),
	}
}
