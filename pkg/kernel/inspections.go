package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/services"
	"github.com/oapi-codegen/runtime"
)

const sseKeepAlive = 15 * time.Second

// inspectionView is the API shape of a task. The report is only present
// once the task completed, the error only once it failed.
type inspectionView struct {
	TaskID       domain.TaskID     `json:"task_id"`
	Status       domain.TaskStatus `json:"status"`
	Progress     int               `json:"progress"`
	Stage        string            `json:"stage,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Report       *domain.Report    `json:"report,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
}

func toView(t domain.Task) inspectionView {
	v := inspectionView{
		TaskID:      t.ID,
		Status:      t.Status,
		Progress:    t.Progress,
		Stage:       t.Stage,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	switch t.Status {
	case domain.TaskStatusCompleted:
		v.Report = t.Report
	case domain.TaskStatusFailed:
		v.ErrorMessage = t.Error
	}
	return v
}

func (s *Server) handleCreateInspection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "expected multipart/form-data: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	task, err := s.inspections.Submit(r.Context(), submissionFromForm(r.MultipartForm))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
		"message": "inspection task created and queued",
	})
}

func submissionFromForm(form *multipart.Form) services.Submission {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	files := make(map[string][]services.Upload, len(form.File))
	for field, headers := range form.File {
		for _, fh := range headers {
			files[field] = append(files[field], services.Upload{
				Filename: fh.Filename,
				Size:     fh.Size,
				Open:     func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}

	return services.Submission{
		BasicInfo: domain.BasicInfo{
			Brand:              value("brand"),
			Model:              value("model"),
			Storage:            value("storage"),
			AccessoryCondition: value("accessory_condition"),
		},
		UserNotes: value("user_text_inputs"),
		Files:     files,
	}
}

func (s *Server) taskID(r *http.Request) (domain.TaskID, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", domain.NewInputError("id", "%v", err)
	}
	return domain.TaskID(id), nil
}

func (s *Server) handleGetInspection(w http.ResponseWriter, r *http.Request) {
	id, err := s.taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.inspections.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(task))
}

func (s *Server) handleListInspections(w http.ResponseWriter, r *http.Request) {
	var (
		status      *string
		skip, limit *int
	)
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", q, &status); err != nil {
		s.writeError(w, r, domain.NewInputError("status", "%v", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "skip", q, &skip); err != nil {
		s.writeError(w, r, domain.NewInputError("skip", "%v", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &limit); err != nil {
		s.writeError(w, r, domain.NewInputError("limit", "%v", err))
		return
	}

	filter := domain.TaskFilter{Limit: domain.DefaultListLimit}
	if status != nil {
		filter.Status = domain.TaskStatus(*status)
	}
	if skip != nil {
		filter.Offset = *skip
	}
	if limit != nil {
		filter.Limit = *limit
	}

	tasks, total, err := s.inspections.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]inspectionView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"inspections": views, "total": total})
}

// handleInspectionSSE streams status and log events of one task. The first
// event is a snapshot of the stored state; the stream ends after a terminal
// status.
func (s *Server) handleInspectionSSE(w http.ResponseWriter, r *http.Request) {
	id, err := s.taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Subscribe before reading the snapshot so no transition is missed.
	ch, unsub := s.events.Subscribe(id)
	defer unsub()

	task, err := s.inspections.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	progress := task.Progress
	snapshot, _ := json.Marshal(services.StatusPayload{
		Status:   task.Status,
		Progress: &progress,
		Stage:    task.Stage,
	})
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", services.EventTypeStatus, snapshot)
	flusher.Flush()
	if task.Status.IsTerminal() {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()

			if evt.Type == services.EventTypeStatus {
				var p services.StatusPayload
				if json.Unmarshal([]byte(evt.Data), &p) == nil && p.Status.IsTerminal() {
					return
				}
			}
		}
	}
}
