// Package main implements the searchctl CLI for manual operations against
// the searchd HTTP server.
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
	// serverURL is the base URL for the searchd HTTP server
	serverURL string
	// apiKey authenticates the mutating commands
	apiKey string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "searchctl",
	Short: "CLI for searchd HTTP server operations",
	Long: `searchctl is a command-line interface for the searchd HTTP server.
It triggers indexing and payload sync runs, queries search, and inspects
reconciliation reports and background jobs.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "searchd server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SEARCHD_API_KEY"), "API key for mutating commands")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(indexOneCmd)
	rootCmd.AddCommand(syncPayloadCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(jobCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check searchd server health",
	RunE:  runHealth,
}

var (
	searchLimit  uint64
	searchOffset uint64
	searchDelta  string
	searchSimilar string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search images by text or by reference image",
	Long: `Search images by a free-text query or by similarity to an already
indexed reference image.

Examples:
  # Text search
  searchctl search "gravestone with angel"

  # Find images similar to an indexed one
  searchctl search --similar totenbilder/00123.jpg

  # Only images with delta > 0
  searchctl search "cross" --delta ">0"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Trigger a bulk indexing run",
	Long: `Trigger a bulk indexing run on the server. The run happens in the
background; the command prints the job id to poll with "searchctl job".

Examples:
  # Index everything not yet indexed
  searchctl index

  # Re-embed and overwrite every image
  searchctl index --force`,
	RunE: runIndex,
}

var indexOneCmd = &cobra.Command{
	Use:   "index-one <filename>",
	Short: "Index a single image synchronously",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexOne,
}

var (
	syncFilename string
	syncAll      bool
)

var syncPayloadCmd = &cobra.Command{
	Use:   "sync-payload",
	Short: "Sync nid/delta metadata onto indexed points",
	Long: `Copy the nid and delta attributes from the metadata store onto the
matching vector index payloads. Exactly one of --filename and --all must
be given.

Examples:
  # Sync one image
  searchctl sync-payload --filename 00123.jpg

  # Sync every row
  searchctl sync-payload --all`,
	RunE: runSyncPayload,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Show the three-way store reconciliation report",
	RunE:  runReconcile,
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of a background job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

func init() {
	searchCmd.Flags().Uint64Var(&searchLimit, "limit", 0, "maximum number of results")
	searchCmd.Flags().Uint64Var(&searchOffset, "offset", 0, "result offset for paging")
	searchCmd.Flags().StringVar(&searchDelta, "delta", "", `delta filter: "alle", "0", or ">0"`)
	searchCmd.Flags().StringVar(&searchSimilar, "similar", "", "filename of a reference image")
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-embed and overwrite already indexed images")
	syncPayloadCmd.Flags().StringVar(&syncFilename, "filename", "", "sync a single filename")
	syncPayloadCmd.Flags().BoolVar(&syncAll, "all", false, "sync every metadata row")
	syncPayloadCmd.MarkFlagsMutuallyExclusive("filename", "all")
	syncPayloadCmd.MarkFlagsOneRequired("filename", "all")
}

// Request and response bodies matching internal/server/handlers.go.

type searchRequest struct {
	Query   string `json:"query"`
	Similar string `json:"similar"`
	Limit   uint64 `json:"limit"`
	Offset  uint64 `json:"offset"`
	Delta   string `json:"delta"`
}

type searchResult struct {
	Filename string  `json:"filename"`
	ImageURL string  `json:"image_url"`
	Score    float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Count   int            `json:"count"`
}

type indexRequest struct {
	ForceReindex bool `json:"force_reindex"`
}

type indexOneRequest struct {
	Filename string `json:"filename"`
}

type indexOneResponse struct {
	Indexed string `json:"indexed"`
}

type updatePayloadRequest struct {
	Filename string `json:"filename"`
	All      bool   `json:"all"`
}

type job struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   string          `json:"status"`
	Duration time.Duration   `json:"duration"`
	Error    string          `json:"error"`
	Result   json.RawMessage `json:"result"`
}

type jobResponse struct {
	Job job `json:"job"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp healthResponse
	if err := call(http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Server Status: %s\n", resp.Status)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := searchRequest{
		Similar: searchSimilar,
		Limit:   searchLimit,
		Offset:  searchOffset,
		Delta:   searchDelta,
	}
	if len(args) > 0 {
		req.Query = args[0]
	}
	if req.Query == "" && req.Similar == "" {
		return fmt.Errorf("a query argument or --similar is required")
	}

	var resp searchResponse
	if err := call(http.MethodPost, "/api/search", req, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Printf("%3d. %.3f  %s\n", i+1, r.Score, r.ImageURL)
	}
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	var resp jobResponse
	if err := call(http.MethodPost, "/api/index", indexRequest{ForceReindex: indexForce}, &resp); err != nil {
		return err
	}
	fmt.Printf("Indexing started, job %s\n", resp.Job.ID)
	fmt.Printf("Poll with: searchctl job %s\n", resp.Job.ID)
	return nil
}

func runIndexOne(cmd *cobra.Command, args []string) error {
	var resp indexOneResponse
	if err := call(http.MethodPost, "/api/index-one", indexOneRequest{Filename: args[0]}, &resp); err != nil {
		return err
	}
	fmt.Printf("Indexed %s\n", resp.Indexed)
	return nil
}

func runSyncPayload(cmd *cobra.Command, args []string) error {
	var resp jobResponse
	req := updatePayloadRequest{Filename: syncFilename, All: syncAll}
	if err := call(http.MethodPost, "/api/update-payload", req, &resp); err != nil {
		return err
	}
	fmt.Printf("Payload sync started, job %s\n", resp.Job.ID)
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	var resp json.RawMessage
	if err := call(http.MethodGet, "/api/reconcile", nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runJob(cmd *cobra.Command, args []string) error {
	var resp jobResponse
	if err := call(http.MethodGet, "/api/jobs/"+args[0], nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Job:      %s (%s)\n", resp.Job.ID, resp.Job.Name)
	fmt.Printf("Status:   %s\n", resp.Job.Status)
	if resp.Job.Duration > 0 {
		fmt.Printf("Duration: %s\n", resp.Job.Duration)
	}
	if resp.Job.Error != "" {
		fmt.Printf("Error:    %s\n", resp.Job.Error)
	}
	if len(resp.Job.Result) > 0 {
		fmt.Println("Result:")
		return printJSON(resp.Job.Result)
	}
	return nil
}

// call sends one JSON request to the server and decodes the response into
// out. Non-2xx responses become errors carrying the server's message.
func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}
