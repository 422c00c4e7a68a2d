package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/use-agent/scrapeflow/models"
)

var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "scrapeflow API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	runs        = flag.Int("runs", 3, "number of runs per URL and tier")
	tiers       = flag.String("tiers", "fast,simple,advanced", "comma-separated tiers to compare")
	bypassCache = flag.Bool("bypass-cache", true, "give every run a unique cache key")
	output      = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
}

type runResult struct {
	Run         int    `json:"run"`
	LatencyMs   int64  `json:"latency_ms"`
	ServerMs    int64  `json:"server_ms"`
	Engine      string `json:"engine,omitempty"`
	Attempts    int    `json:"attempts"`
	CacheStatus string `json:"cache_status,omitempty"`
	TextTokens  int    `json:"text_tokens"`
	LinkCount   int    `json:"link_count"`
	Failures    int    `json:"category_failures"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

type tierResult struct {
	URL       string      `json:"url"`
	Label     string      `json:"label"`
	Tier      models.Tier `json:"tier"`
	Runs      []runResult `json:"runs"`
	AvgMs     float64     `json:"avg_latency_ms"`
	Successes int         `json:"successes"`
}

type benchmarkReport struct {
	Timestamp  string       `json:"timestamp"`
	APIURL     string       `json:"api_url"`
	RunsPerURL int          `json:"runs_per_url"`
	Results    []tierResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== scrapeflow tier benchmark ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs:      %d\n", *runs)
	fmt.Printf("Tiers:     %s\n", *tiers)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	client := &http.Client{Timeout: 180 * time.Second}
	if err := checkAPI(client, *apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		for _, name := range strings.Split(*tiers, ",") {
			tier := models.Tier(strings.TrimSpace(name))
			if !tier.Valid() {
				fmt.Fprintf(os.Stderr, "skipping unknown tier %q\n", name)
				continue
			}
			fmt.Printf("Benchmarking [%s/%s] %s ...\n", t.Label, tier, t.URL)
			tr := tierResult{URL: t.URL, Label: t.Label, Tier: tier}

			var total int64
			for i := 1; i <= *runs; i++ {
				rr := benchmarkRun(client, t.URL, tier, i)
				if rr.Success {
					tr.Successes++
					total += rr.LatencyMs
					fmt.Printf("  run %d: OK  %dms  engine=%s attempts=%d cache=%s\n",
						i, rr.LatencyMs, rr.Engine, rr.Attempts, rr.CacheStatus)
				} else {
					fmt.Printf("  run %d: FAILED %s\n", i, rr.Error)
				}
				tr.Runs = append(tr.Runs, rr)
			}
			if tr.Successes > 0 {
				tr.AvgMs = float64(total) / float64(tr.Successes)
			}
			report.Results = append(report.Results, tr)
		}
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkRun(client *http.Client, url string, tier models.Tier, run int) runResult {
	rr := runResult{Run: run}

	req := models.ScrapeRequest{
		URL:          url,
		Tier:         tier,
		ExtractText:  true,
		ExtractLinks: tier != models.TierFast,
	}
	if *bypassCache {
		req.CacheKey = fmt.Sprintf("bench:%s:%s:%d", tier, url, time.Now().UnixNano())
	}

	body, err := json.Marshal(req)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}
	httpReq, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/scrape", bytes.NewReader(body))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()
	rr.LatencyMs = time.Since(start).Milliseconds()

	var res models.ScrapeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = res.Success
	rr.ServerMs = res.Provenance.DurationMs
	rr.Engine = res.Provenance.Engine
	rr.Attempts = res.Provenance.Attempts
	rr.CacheStatus = res.Provenance.CacheStatus
	if res.Error != nil {
		rr.Error = fmt.Sprintf("[%s] %s", res.Error.Code, res.Error.Message)
	}
	for _, cr := range res.Data {
		if cr.Failed() {
			rr.Failures++
		}
		if cr.Text != nil {
			rr.TextTokens = cr.Text.Tokens
		}
		rr.LinkCount += cr.Links.Count()
	}
	return rr
}

func printTable(results []tierResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tTier\tAvg Latency\tOK\tEngine\n")
	fmt.Fprintf(w, "───\t────\t───────────\t──\t──────\n")

	for _, r := range results {
		if r.Successes == 0 {
			fmt.Fprintf(w, "%s\t%s\tFAILED\t0/%d\t-\n", truncateURL(r.URL, 40), r.Tier, len(r.Runs))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%dms\t%d/%d\t%s\n",
			truncateURL(r.URL, 40),
			r.Tier,
			int64(r.AvgMs),
			r.Successes, len(r.Runs),
			dominantEngine(r.Runs),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func dominantEngine(runs []runResult) string {
	counts := map[string]int{}
	best, bestCount := "-", 0
	for _, r := range runs {
		if !r.Success || r.Engine == "" {
			continue
		}
		counts[r.Engine]++
		if counts[r.Engine] > bestCount {
			best, bestCount = r.Engine, counts[r.Engine]
		}
	}
	return best
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
