package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hairizuan-noorazman/testflow/sheetsync"
	"github.com/spf13/cobra"
)

func syncPath(testSetID string) string {
	return fmt.Sprintf("/api/v1/test-sets/%s/sync", url.PathEscape(testSetID))
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile an external sheet with a test set",
	}

	cmd.AddCommand(newSyncPushCmd())
	cmd.AddCommand(newSyncConflictsCmd())
	cmd.AddCommand(newSyncStateCmd())
	return cmd
}

func newSyncPushCmd() *cobra.Command {
	var testSetID, file, author, sheet string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Reconcile a CSV or XLSX sheet and commit the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			contentType, err := sheetContentType(file)
			if err != nil {
				return err
			}
			if contentType == "application/json" {
				return fmt.Errorf("sync takes a CSV or XLSX sheet")
			}
			if author == "" {
				author = getConfigAuthor()
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			query := url.Values{}
			query.Set("author", author)
			if sheet != "" {
				query.Set("sheet", sheet)
			}

			body, err := client.PostFile(syncPath(testSetID), query, contentType, f)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var res sheetsync.Result
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			printMessage(fmt.Sprintf("Reconciled into %s v%d", res.Version.TestSetID, res.Version.Number))
			if res.Warning != "" {
				printMessage("Warning: " + res.Warning)
			}

			counts := make(map[sheetsync.ChangeKind]int)
			for _, kind := range res.Classification {
				counts[kind]++
			}
			kinds := make([]string, 0, len(counts))
			for k := range counts {
				kinds = append(kinds, string(k))
			}
			sort.Strings(kinds)
			var rows [][]string
			for _, k := range kinds {
				rows = append(rows, []string{k, strconv.Itoa(counts[sheetsync.ChangeKind(k)])})
			}
			printTable([]string{"CHANGE", "CASES"}, rows)

			if len(res.Conflicts) > 0 {
				printMessage(fmt.Sprintf("\n%d conflicts:", len(res.Conflicts)))
				printConflicts(res.Conflicts)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Sheet to reconcile (required)")
	cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&author, "author", "", "Author of the sync (default from config)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "XLSX sheet name (default first sheet)")
	return cmd
}

func printConflicts(conflicts []sheetsync.Conflict) {
	var rows [][]string
	for _, c := range conflicts {
		rows = append(rows, []string{
			c.CaseKey,
			string(c.Kind),
			string(c.Resolution),
			orDash(strings.Join(c.Fields, ", ")),
		})
	}
	printTable([]string{"CASE", "KIND", "RESOLUTION", "FIELDS"}, rows)
}

func newSyncConflictsCmd() *cobra.Command {
	var testSetID string
	var version int

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recorded sync conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			if version > 0 {
				query.Set("version", strconv.Itoa(version))
			}

			body, err := client.Get(syncPath(testSetID)+"/conflicts", query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var records []sheetsync.ConflictRecord
			if err := json.Unmarshal(body, &records); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			var rows [][]string
			for _, r := range records {
				rows = append(rows, []string{
					fmt.Sprintf("v%d", r.VersionNumber),
					r.CaseKey,
					string(r.Kind),
					string(r.Resolution),
					orDash(r.Detail),
				})
			}
			printTable([]string{"VERSION", "CASE", "KIND", "RESOLUTION", "DETAIL"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().IntVar(&version, "version", 0, "Only conflicts of this version")
	return cmd
}

func newSyncStateCmd() *cobra.Command {
	var testSetID string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the last synced sheet of a test set",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Get(syncPath(testSetID)+"/state", nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var state sheetsync.SyncState
			if err := json.Unmarshal(body, &state); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			printTable([]string{"FIELD", "VALUE"}, [][]string{
				{"Test Set", state.TestSetID},
				{"Version", strconv.Itoa(state.VersionNumber)},
				{"Rows", strconv.Itoa(len(state.Snapshot))},
				{"Updated At", formatTime(&state.UpdatedAt)},
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	return cmd
}
