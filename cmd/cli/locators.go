package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hairizuan-noorazman/testflow/locator"
	"github.com/spf13/cobra"
)

func locatorPath(elementID string) string {
	return "/api/v1/locators/" + url.PathEscape(elementID)
}

func newLocatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locators",
		Short: "Manage element locators",
	}

	cmd.AddCommand(newLocatorsGetCmd())
	cmd.AddCommand(newLocatorsSetCmd())
	return cmd
}

func newLocatorsGetCmd() *cobra.Command {
	var elementID string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the active locator and its history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Get(locatorPath(elementID), nil)
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var resp struct {
				Active  *locator.Locator   `json:"active"`
				History []*locator.Locator `json:"history"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			var rows [][]string
			for _, l := range resp.History {
				active := ""
				if l.Active {
					active = "*"
				}
				rows = append(rows, []string{
					active,
					strconv.Itoa(l.Version),
					string(l.Strategy),
					l.Value,
					string(l.Source),
					formatTime(&l.CreatedAt),
				})
			}
			printTable([]string{"", "VERSION", "STRATEGY", "VALUE", "SOURCE", "CREATED AT"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&elementID, "element", "", "Element ID (required)")
	cmd.MarkFlagRequired("element")
	return cmd
}

func newLocatorsSetCmd() *cobra.Command {
	var elementID, strategy, value string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Record a new active locator for an element",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			body, err := client.Post(locatorPath(elementID), map[string]string{
				"strategy": strategy,
				"value":    value,
			})
			if err != nil {
				return err
			}

			if flagJSON {
				printRaw(body)
				return nil
			}

			var l locator.Locator
			if err := json.Unmarshal(body, &l); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printMessage(fmt.Sprintf("Locator %s v%d: %s", l.ElementID, l.Version, l.Selector()))
			return nil
		},
	}

	cmd.Flags().StringVar(&elementID, "element", "", "Element ID (required)")
	cmd.MarkFlagRequired("element")
	cmd.Flags().StringVar(&strategy, "strategy", "css", "Locator strategy (css, xpath, text, accessibility_id, coordinates)")
	cmd.Flags().StringVar(&value, "value", "", "Locator value (required)")
	cmd.MarkFlagRequired("value")
	return cmd
}
