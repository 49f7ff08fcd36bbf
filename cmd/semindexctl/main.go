// Package main implements semindexctl, a CLI for manual operations against
// the semindex HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the semindex HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "semindexctl",
	Short: "CLI for semindex HTTP server operations",
	Long: `semindexctl is a command-line interface for the semindex HTTP server.
It indexes items from JSON files, runs searches, deletes tenants and
checks server health.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "semindex server URL")

	searchCmd.Flags().StringVar(&searchTenant, "tenant", "", "tenant id (required)")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchCollection, "collection", "", "restrict the search to one collection")
	_ = searchCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(healthCmd, upsertCmd, searchCmd, deleteTenantCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check semindex server health",
	RunE:  runHealth,
}

// upsertCmd indexes items from a file or stdin
var upsertCmd = &cobra.Command{
	Use:   "upsert [file]",
	Short: "Index items from a JSON file or stdin",
	Long: `Index items from a JSON array of {id, collection, tenant_id, text, metadata}.

Examples:
  # Index a file
  semindexctl upsert items.json

  # Index from stdin
  cat items.json | semindexctl upsert -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpsert,
}

var (
	searchTenant     string
	searchTopK       int
	searchCollection string
)

// searchCmd runs a search
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

// deleteTenantCmd removes every record of a tenant
var deleteTenantCmd = &cobra.Command{
	Use:   "delete-tenant <tenant>",
	Short: "Delete every indexed record of a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteTenant,
}

var client = &http.Client{Timeout: 30 * time.Second}

// call sends body as JSON and decodes a 2xx response into out.
func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := call(http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", serverURL)
	return nil
}

func runUpsert(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(content, &items); err != nil {
		return fmt.Errorf("input must be a JSON array of items: %w", err)
	}
	if len(items) == 0 {
		return fmt.Errorf("no items to index")
	}

	var report struct {
		Total   int `json:"total"`
		Indexed int `json:"indexed"`
		Failed  []struct {
			ItemID string `json:"item_id"`
			Stage  string `json:"stage"`
			Error  string `json:"error"`
		} `json:"failed"`
	}
	if err := call(http.MethodPost, "/v1/items", map[string]any{"items": items}, &report); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d/%d item(s)\n", report.Indexed, report.Total)
	for _, f := range report.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s failed at %s: %s\n", f.ItemID, f.Stage, f.Error)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	var resp struct {
		Results []struct {
			ID          string         `json:"id"`
			Type        string         `json:"type"`
			Score       float64        `json:"score"`
			Payload     map[string]any `json:"payload"`
			RerankScore *float64       `json:"rerank_score"`
		} `json:"results"`
	}
	req := map[string]any{
		"query":     args[0],
		"tenant_id": searchTenant,
		"top_k":     searchTopK,
	}
	if searchCollection != "" {
		req["collection"] = searchCollection
	}
	if err := call(http.MethodPost, "/v1/search", req, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. [%s] %s  score=%.3f", i+1, r.Type, r.Payload["source_id"], r.Score)
		if r.RerankScore != nil {
			fmt.Fprintf(out, " rerank=%.3f", *r.RerankScore)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runDeleteTenant(cmd *cobra.Command, args []string) error {
	if err := call(http.MethodDelete, "/v1/tenants/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted tenant %s\n", args[0])
	return nil
}
