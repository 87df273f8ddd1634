package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Start and inspect runs",
	}

	cmd.AddCommand(newRunsStartCmd())
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsGetCmd())
	cmd.AddCommand(newRunsCancelCmd())
	cmd.AddCommand(newRunsEvidenceCmd())
	return cmd
}

func newRunsStartCmd() *cobra.Command {
	var versionID, triggeredBy string
	var scope []string
	var wait bool
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run of a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			id, err := uuid.Parse(versionID)
			if err != nil {
				return fmt.Errorf("invalid version ID: %w", err)
			}
			if triggeredBy == "" {
				triggeredBy = getConfigAuthor()
			}

			body, err := client.Post("/api/v1/runs", map[string]interface{}{
				"version_id":   id,
				"scope":        scope,
				"triggered_by": triggeredBy,
			})
			if err != nil {
				return err
			}

			var started struct {
				RunID uuid.UUID `json:"run_id"`
			}
			if err := json.Unmarshal(body, &started); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if !wait {
				if flagJSON {
					printRaw(body)
					return nil
				}
				printMessage(fmt.Sprintf("Run started: %s", started.RunID))
				return nil
			}

			run, err := waitForRun(client, started.RunID, pollInterval)
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(run)
				return nil
			}
			printRun(run)
			return nil
		},
	}

	cmd.Flags().StringVar(&versionID, "version-id", "", "Version ID (required)")
	cmd.MarkFlagRequired("version-id")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "Case IDs to run (default all)")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", "", "Who triggered the run (default from config)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "Polling interval with --wait")
	return cmd
}

func getRun(client *Client, id uuid.UUID) (*testrun.Run, error) {
	body, err := client.Get("/api/v1/runs/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	var run testrun.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &run, nil
}

// waitForRun polls until the run leaves the running status.
func waitForRun(client *Client, id uuid.UUID, interval time.Duration) (*testrun.Run, error) {
	for {
		run, err := getRun(client, id)
		if err != nil {
			return nil, err
		}
		if run.Status.IsFinal() {
			return run, nil
		}
		time.Sleep(interval)
	}
}

func printRun(run *testrun.Run) {
	printTable([]string{"FIELD", "VALUE"}, [][]string{
		{"ID", run.ID.String()},
		{"Test Set", run.TestSetID},
		{"Version", fmt.Sprintf("v%d", run.VersionNumber)},
		{"Status", string(run.Status)},
		{"Reason", orDash(run.Reason)},
		{"Cancelled", fmt.Sprintf("%v", run.Cancelled)},
		{"Triggered By", orDash(run.TriggeredBy)},
		{"Started At", formatTime(&run.StartedAt)},
		{"Completed At", formatTime(run.CompletedAt)},
	})

	if len(run.CaseResults) > 0 {
		printMessage("\nCases:")
		var rows [][]string
		for _, cr := range run.CaseResults {
			rows = append(rows, []string{cr.CaseKey, string(cr.Status), orDash(cr.Reason)})
		}
		printTable([]string{"CASE", "STATUS", "REASON"}, rows)
	}
}

func newRunsListCmd() *cobra.Command {
	var versionID, testSetID, status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			if versionID != "" {
				query.Set("version_id", versionID)
			}
			if testSetID != "" {
				query.Set("test_set_id", testSetID)
			}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			body, err := client.Get("/api/v1/runs", query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var resp PaginatedResponse[testrun.Run]
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			headers := []string{"ID", "TEST SET", "VERSION", "STATUS", "STARTED AT", "COMPLETED AT"}
			var rows [][]string
			for _, r := range resp.Items {
				rows = append(rows, []string{
					r.ID.String(),
					r.TestSetID,
					fmt.Sprintf("v%d", r.VersionNumber),
					string(r.Status),
					formatTime(&r.StartedAt),
					formatTime(r.CompletedAt),
				})
			}
			printTable(headers, rows)
			printMessage(fmt.Sprintf("\nShowing %d of %d runs", len(resp.Items), resp.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&versionID, "version-id", "", "Filter by version ID")
	cmd.Flags().StringVar(&testSetID, "test-set", "", "Filter by test set ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, passed, failed, partial, skipped)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset for pagination")
	return cmd
}

func newRunsGetCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a run and its case results",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			runID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			run, err := getRun(client, runID)
			if err != nil {
				return err
			}
			if flagJSON {
				printJSON(run)
				return nil
			}
			printRun(run)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newRunsCancelCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			if _, err := client.Post(fmt.Sprintf("/api/v1/runs/%s/cancel", url.PathEscape(id)), nil); err != nil {
				return err
			}
			printMessage(fmt.Sprintf("Cancellation requested for run %s", id))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newRunsEvidenceCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "List evidence captured during a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Get(fmt.Sprintf("/api/v1/runs/%s/evidence", url.PathEscape(id)), nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var items []struct {
				Handle string `json:"handle"`
				URL    string `json:"url"`
			}
			if err := json.Unmarshal(body, &items); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			var rows [][]string
			for _, it := range items {
				rows = append(rows, []string{it.Handle, orDash(it.URL)})
			}
			printTable([]string{"HANDLE", "URL"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
