// starbridge-batch reads a CSV of webhooks and submits them to a
// running starbridge server's POST /api/batch endpoint. Supplemented
// from spec.md §1's mention of a CSV batch uploader; cobra/pflag CLI
// convention grounded on AbdelazizMoustafa10m-Raven's command style.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// webhookRow mirrors internal/api.RunRequest's JSON shape so the CLI
// doesn't need to import the api package just for one struct.
type webhookRow struct {
	TargetCompany      string `json:"target_company,omitempty"`
	TargetDomain       string `json:"target_domain,omitempty"`
	ProductDescription string `json:"product_description,omitempty"`
	CampaignID         string `json:"campaign_id,omitempty"`
	ProspectName       string `json:"prospect_name,omitempty"`
	ProspectEmail      string `json:"prospect_email,omitempty"`
	Tier               string `json:"tier,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		csvPath   string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "starbridge-batch",
		Short: "Submit a CSV of webhooks to a starbridge server as one batch",
		Long: `Reads a CSV with header columns target_company, target_domain,
product_description, campaign_id, prospect_name, prospect_email, tier
and POSTs the rows as a single batch to the server's /api/batch endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.OutOrStdout(), serverURL, csvPath, timeout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the starbridge server")
	flags.StringVar(&csvPath, "csv", "", "Path to the webhook CSV file (required)")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "HTTP request timeout")
	cmd.MarkFlagRequired("csv")

	return cmd
}

func runBatch(out io.Writer, serverURL, csvPath string, timeout time.Duration) error {
	rows, err := readWebhookCSV(csvPath)
	if err != nil {
		return fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("csv %s contains no data rows", csvPath)
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshalling batch: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/batch", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submitting batch: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, respBody)
	}

	fmt.Fprintf(out, "submitted %d webhooks: %s\n", len(rows), respBody)
	return nil
}

func readWebhookCSV(path string) ([]webhookRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}

	var rows []webhookRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, webhookRow{
			TargetCompany:      fieldAt(record, colIdx, "target_company"),
			TargetDomain:       fieldAt(record, colIdx, "target_domain"),
			ProductDescription: fieldAt(record, colIdx, "product_description"),
			CampaignID:         fieldAt(record, colIdx, "campaign_id"),
			ProspectName:       fieldAt(record, colIdx, "prospect_name"),
			ProspectEmail:      fieldAt(record, colIdx, "prospect_email"),
			Tier:               fieldAt(record, colIdx, "tier"),
		})
	}
	return rows, nil
}

func fieldAt(record []string, colIdx map[string]int, name string) string {
	i, ok := colIdx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
