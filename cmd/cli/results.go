package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hairizuan-noorazman/testflow/testrun"
	"github.com/spf13/cobra"
)

func newStepResultsCmd() *cobra.Command {
	var runID, versionID, caseKey, status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "step-results",
		Short: "Query recorded step results",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			for k, v := range map[string]string{
				"run_id":     runID,
				"version_id": versionID,
				"case_key":   caseKey,
				"status":     status,
			} {
				if v != "" {
					query.Set(k, v)
				}
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			body, err := client.Get("/api/v1/step-results", query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var results []testrun.StepResult
			if err := json.Unmarshal(body, &results); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			headers := []string{"CASE", "STEP", "BACKEND", "STATUS", "ATTEMPTS", "HEALED", "ELAPSED", "REASON"}
			var rows [][]string
			for _, r := range results {
				rows = append(rows, []string{
					r.CaseKey,
					strconv.Itoa(r.StepIndex),
					orDash(r.Backend),
					string(r.Status),
					strconv.Itoa(r.Attempts),
					strconv.Itoa(r.HealingInvocations),
					fmt.Sprintf("%dms", r.ElapsedMS),
					orDash(r.Reason),
				})
			}
			printTable(headers, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Filter by run ID")
	cmd.Flags().StringVar(&versionID, "version-id", "", "Filter by version ID")
	cmd.Flags().StringVar(&caseKey, "case", "", "Filter by case ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset for pagination")
	return cmd
}
