package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type taskView struct {
	TaskID       domain.TaskID     `json:"task_id"`
	Status       domain.TaskStatus `json:"status"`
	Progress     int               `json:"progress"`
	Stage        string            `json:"stage"`
	Report       *domain.Report    `json:"report"`
	ErrorMessage *string           `json:"error_message"`
}

func watchCmd() *cobra.Command {
	var (
		server   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow an inspection until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchTask(cmd.Context(), cmd.OutOrStdout(), strings.TrimRight(server, "/"), args[0], interval)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "inspectd API base URL")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func watchTask(ctx context.Context, out io.Writer, server, id string, interval time.Duration) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("PENDING"),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)
	client := &http.Client{Timeout: 30 * time.Second}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := fetchTask(ctx, client, server, id)
		if err != nil {
			return err
		}
		bar.Describe(stageLabel(task))
		_ = bar.Set(task.Progress)

		switch task.Status {
		case domain.TaskStatusCompleted:
			_ = bar.Finish()
			printOutcome(out, task)
			return nil
		case domain.TaskStatusFailed:
			_ = bar.Exit()
			msg := "unknown error"
			if task.ErrorMessage != nil {
				msg = *task.ErrorMessage
			}
			return fmt.Errorf("inspection %s failed: %s", id, msg)
		}

		select {
		case <-ctx.Done():
			_ = bar.Exit()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchTask(ctx context.Context, client *http.Client, server, id string) (taskView, error) {
	var task taskView
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/v1/inspections/"+id, nil)
	if err != nil {
		return task, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return task, fmt.Errorf("failed to reach %s: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return task, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return task, fmt.Errorf("failed to decode task: %w", err)
	}
	return task, nil
}

func stageLabel(t taskView) string {
	if t.Stage == "" {
		return string(t.Status)
	}
	return fmt.Sprintf("%s (%s)", t.Status, t.Stage)
}

func printOutcome(out io.Writer, t taskView) {
	if t.Report == nil {
		fmt.Fprintf(out, "inspection %s completed without a report\n", t.TaskID)
		return
	}
	v := t.Report.Valuation
	fmt.Fprintf(out, "%s %s %s\n", t.Report.DeviceInfo.Brand, t.Report.DeviceInfo.Model, t.Report.DeviceInfo.Storage)
	fmt.Fprintf(out, "price: %.2f %s (base %.2f, deductions %.2f)\n", v.Price, v.Currency, v.BasePrice, v.TotalDeduction)
	for _, d := range v.Deductions {
		fmt.Fprintf(out, "  - %s: %s\n", d.Category, d.Reason)
	}
	if v.PriceHint != "" {
		fmt.Fprintf(out, "model estimate: %s\n", v.PriceHint)
	}
	if len(t.Report.DegradedKinds) > 0 {
		fmt.Fprintf(out, "degraded analyses: %v\n", t.Report.DegradedKinds)
	}
}
