package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/hairizuan-noorazman/testflow/versioning"
	"github.com/spf13/cobra"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sheetContentType picks the upload content type from the file extension.
func sheetContentType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv", nil
	case ".xlsx":
		return contentTypeXLSX, nil
	case ".json":
		return "application/json", nil
	default:
		return "", fmt.Errorf("unsupported file type %q: use .csv, .xlsx or .json", filepath.Ext(path))
	}
}

func versionsPath(testSetID string) string {
	return fmt.Sprintf("/api/v1/test-sets/%s/versions", url.PathEscape(testSetID))
}

func newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage test-set versions",
	}

	cmd.AddCommand(newVersionsListCmd())
	cmd.AddCommand(newVersionsGetCmd())
	cmd.AddCommand(newVersionsUploadCmd())
	cmd.AddCommand(newVersionsDiffCmd())
	cmd.AddCommand(newVersionsDuplicatesCmd())
	cmd.AddCommand(newVersionsUploadsCmd())
	return cmd
}

func newVersionsListCmd() *cobra.Command {
	var testSetID string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List versions of a test set, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}

			body, err := client.Get(versionsPath(testSetID), query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var resp PaginatedResponse[versioning.Version]
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			headers := []string{"VERSION", "AUTHOR", "SOURCE", "CASES", "SIMILARITY", "CREATED AT"}
			var rows [][]string
			for _, v := range resp.Items {
				similarity := fmt.Sprintf("%.2f", v.Similarity)
				if v.SimilarityWarning {
					similarity += " (!)"
				}
				rows = append(rows, []string{
					fmt.Sprintf("v%d", v.Number),
					v.Author,
					string(v.Source),
					strconv.Itoa(v.CaseCount),
					similarity,
					formatTime(&v.CreatedAt),
				})
			}
			printTable(headers, rows)
			printMessage(fmt.Sprintf("\nShowing %d of %d versions", len(resp.Items), resp.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset for pagination")
	return cmd
}

// versionDetail matches handlers.VersionDetail.
type versionDetail struct {
	versioning.Version
	Cases []testcase.TestCase `json:"cases"`
}

func newVersionsGetCmd() *cobra.Command {
	var testSetID string
	var number int

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show one version and its cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Get(fmt.Sprintf("%s/%d", versionsPath(testSetID), number), nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var v versionDetail
			if err := json.Unmarshal(body, &v); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			printTable([]string{"FIELD", "VALUE"}, [][]string{
				{"ID", v.ID.String()},
				{"Test Set", v.TestSetID},
				{"Version", strconv.Itoa(v.Number)},
				{"Author", v.Author},
				{"Source", string(v.Source)},
				{"Content Hash", v.ContentHash},
				{"Added", strings.Join(v.Diff.Added, ", ")},
				{"Removed", strings.Join(v.Diff.Removed, ", ")},
				{"Modified", strings.Join(v.Diff.Modified, ", ")},
				{"Created At", formatTime(&v.CreatedAt)},
			})

			if len(v.Cases) > 0 {
				printMessage("\nCases:")
				var rows [][]string
				for _, tc := range v.Cases {
					rows = append(rows, []string{
						tc.CaseKey,
						tc.UserStory,
						orDash(string(tc.Type)),
						strconv.Itoa(len(tc.Steps)),
						orDash(tc.Title),
					})
				}
				printTable([]string{"CASE", "USER STORY", "TYPE", "STEPS", "TITLE"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().IntVar(&number, "version", 0, "Version number (required)")
	cmd.MarkFlagRequired("version")
	return cmd
}

func newVersionsUploadCmd() *cobra.Command {
	var testSetID, file, author, sheet string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Commit a CSV, XLSX or JSON file as a new version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			contentType, err := sheetContentType(file)
			if err != nil {
				return err
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

			var body []byte
			if contentType == "application/json" {
				var req struct {
					Author string              `json:"author"`
					Source versioning.Source   `json:"source,omitempty"`
					Cases  []testcase.TestCase `json:"cases"`
				}
				if err := json.NewDecoder(f).Decode(&req); err != nil {
					return fmt.Errorf("failed to parse file: %w", err)
				}
				req.Author = author
				body, err = client.Post(versionsPath(testSetID), req)
			} else {
				body, err = client.PostFile(versionsPath(testSetID), query, contentType, f)
			}
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var res versioning.CommitResult
			if err := json.Unmarshal(body, &res); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if res.Duplicate {
				printMessage(fmt.Sprintf("Identical to version %d; no new version created", res.Version.Number))
				return nil
			}
			printMessage(fmt.Sprintf("Committed %s v%d (%d cases, +%d -%d ~%d)",
				res.Version.TestSetID, res.Version.Number, res.Version.CaseCount,
				len(res.Version.Diff.Added), len(res.Version.Diff.Removed), len(res.Version.Diff.Modified)))
			if res.Warning != "" {
				printMessage("Warning: " + res.Warning)
			}
			if len(res.Duplicates) > 0 {
				printMessage(fmt.Sprintf("%d duplicate groups detected", len(res.Duplicates)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().StringVarP(&file, "file", "f", "", "File to upload (required)")
	cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&author, "author", "", "Author of the version (default from config)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "XLSX sheet name (default first sheet)")
	return cmd
}

func newVersionsDiffCmd() *cobra.Command {
	var testSetID string
	var number, against int

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Diff a version against another (default its predecessor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			if against > 0 {
				query.Set("against", strconv.Itoa(against))
			}

			body, err := client.Get(fmt.Sprintf("%s/%d/diff", versionsPath(testSetID), number), query)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var cmp versioning.Comparison
			if err := json.Unmarshal(body, &cmp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			printMessage(fmt.Sprintf("v%d -> v%d (similarity %.2f)", cmp.From, cmp.To, cmp.Similarity))
			printTable([]string{"CHANGE", "CASES"}, [][]string{
				{"added", orDash(strings.Join(cmp.Diff.Added, ", "))},
				{"removed", orDash(strings.Join(cmp.Diff.Removed, ", "))},
				{"unchanged", orDash(strings.Join(cmp.Diff.Unchanged, ", "))},
				{"modified", orDash(strings.Join(cmp.Diff.Modified, ", "))},
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().IntVar(&number, "version", 0, "Version number (required)")
	cmd.MarkFlagRequired("version")
	cmd.Flags().IntVar(&against, "against", 0, "Version to compare with")
	return cmd
}

func newVersionsDuplicatesCmd() *cobra.Command {
	var testSetID string
	var number int

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "List duplicate groups detected in a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Get(fmt.Sprintf("%s/%d/duplicates", versionsPath(testSetID), number), nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var dups []versioning.DuplicateRecord
			if err := json.Unmarshal(body, &dups); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			var rows [][]string
			for _, d := range dups {
				rows = append(rows, []string{
					d.GroupID.String(),
					string(d.Kind),
					strings.Join(d.CaseKeys, ", "),
					fmt.Sprintf("%.2f", d.Similarity),
				})
			}
			printTable([]string{"GROUP", "KIND", "CASES", "SIMILARITY"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	cmd.Flags().IntVar(&number, "version", 0, "Version number (required)")
	cmd.MarkFlagRequired("version")
	return cmd
}

func newVersionsUploadsCmd() *cobra.Command {
	var testSetID string

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Show the upload log of a test set",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Get(fmt.Sprintf("/api/v1/test-sets/%s/uploads", url.PathEscape(testSetID)), nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var logs []versioning.UploadLog
			if err := json.Unmarshal(body, &logs); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			var rows [][]string
			for _, l := range logs {
				rows = append(rows, []string{
					fmt.Sprintf("v%d", l.VersionNumber),
					l.Author,
					fmt.Sprintf("%v", l.Duplicate),
					formatTime(&l.CreatedAt),
				})
			}
			printTable([]string{"VERSION", "AUTHOR", "DUPLICATE", "UPLOADED AT"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&testSetID, "test-set", "", "Test set ID (required)")
	cmd.MarkFlagRequired("test-set")
	return cmd
}
