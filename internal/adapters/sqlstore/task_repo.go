package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/inspectd/internal/core/domain"
)

const taskColumns = `id, status, inputs, report, error_message, progress, stage, attempts, created_at, updated_at, started_at, completed_at`

func (r *Repository) CreateTask(ctx context.Context, inputs domain.TaskInputs) (domain.Task, error) {
	now := time.Now().UTC()
	task := domain.Task{
		ID:        domain.TaskID(uuid.New().String()),
		Status:    domain.TaskStatusPending,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := marshalText(inputs)
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO inspections (id, status, inputs, progress, stage, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 0, '', 0, ?, ?)`,
		string(task.ID), string(task.Status), raw, now, now,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert inspection: %w", err)
	}
	return task, nil
}

func (r *Repository) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	row := r.queryRow(ctx, `SELECT `+taskColumns+` FROM inspections WHERE id = ?`, string(id))
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (r *Repository) ClaimTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	now := time.Now().UTC()
	res, err := r.exec(ctx, `
		UPDATE inspections
		SET status = ?, started_at = ?, updated_at = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?`,
		string(domain.TaskStatusProcessing), now, now, string(id), string(domain.TaskStatusPending),
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("claim inspection: %w", err)
	}
	if err := r.checkApplied(ctx, res, id, domain.ErrTaskNotClaimable); err != nil {
		return domain.Task{}, err
	}
	return r.GetTask(ctx, id)
}

func (r *Repository) SetStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus, errMsg string) error {
	sources := domain.SourcesFor(status)
	if len(sources) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", domain.ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	var msg sql.NullString
	if status == domain.TaskStatusFailed {
		msg = sql.NullString{String: errMsg, Valid: true}
	}

	query := `UPDATE inspections SET status = ?, error_message = ?, updated_at = ?`
	args := []any{string(status), msg, now}
	if status.IsTerminal() {
		query += `, completed_at = COALESCE(completed_at, ?)`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status IN (` + placeholders(len(sources)) + `)`
	args = append(args, string(id))
	for _, s := range sources {
		args = append(args, string(s))
	}

	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update inspection status: %w", err)
	}
	return r.checkApplied(ctx, res, id, domain.ErrInvalidTransition)
}

func (r *Repository) SetReport(ctx context.Context, id domain.TaskID, report domain.Report) error {
	raw, err := marshalText(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.exec(ctx, `
		UPDATE inspections
		SET status = ?, report = ?, progress = 100, updated_at = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status = ?`,
		string(domain.TaskStatusCompleted), raw, now, now, string(id), string(domain.TaskStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	return r.checkApplied(ctx, res, id, domain.ErrInvalidTransition)
}

func (r *Repository) UpdateProgress(ctx context.Context, id domain.TaskID, progress int, stage string) error {
	res, err := r.exec(ctx, `
		UPDATE inspections SET progress = ?, stage = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		progress, stage, time.Now().UTC(), string(id), string(domain.TaskStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return r.checkApplied(ctx, res, id, domain.ErrInvalidTransition)
}

func (r *Repository) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, int, error) {
	filter = filter.Normalize()

	where := ""
	var args []any
	if filter.Status != "" {
		where = ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM inspections`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count inspections: %w", err)
	}

	rows, err := r.query(ctx,
		`SELECT `+taskColumns+` FROM inspections`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list inspections: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

func (r *Repository) ListTasksBefore(ctx context.Context, status domain.TaskStatus, cutoff time.Time) ([]domain.TaskID, error) {
	column := "created_at"
	if status == domain.TaskStatusProcessing {
		column = "started_at"
	}
	rows, err := r.query(ctx,
		`SELECT id FROM inspections WHERE status = ? AND `+column+` < ? ORDER BY created_at ASC`,
		string(status), cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list inspections before: %w", err)
	}
	defer rows.Close()

	var ids []domain.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.TaskID(id))
	}
	return ids, rows.Err()
}

// checkApplied turns a conditional update that touched no row into
// ErrTaskNotFound or conflict, depending on whether the row exists.
func (r *Repository) checkApplied(ctx context.Context, res sql.Result, id domain.TaskID, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.queryRow(ctx, `SELECT 1 FROM inspections WHERE id = ?`, string(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	return conflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                      domain.Task
		id, status, inputs     string
		report, errMsg         sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&id, &status, &inputs, &report, &errMsg,
		&t.Progress, &t.Stage, &t.Attempts,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}

	t.ID = domain.TaskID(id)
	t.Status = domain.TaskStatus(status)
	if err := json.Unmarshal([]byte(inputs), &t.Inputs); err != nil {
		return domain.Task{}, fmt.Errorf("decode inputs of %s: %w", id, err)
	}
	if report.Valid && report.String != "" {
		var rep domain.Report
		if err := json.Unmarshal([]byte(report.String), &rep); err != nil {
			return domain.Task{}, fmt.Errorf("decode report of %s: %w", id, err)
		}
		t.Report = &rep
	}
	if errMsg.Valid {
		msg := errMsg.String
		t.Error = &msg
	}
	if startedAt.Valid {
		ts := startedAt.Time.UTC()
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time.UTC()
		t.CompletedAt = &ts
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
