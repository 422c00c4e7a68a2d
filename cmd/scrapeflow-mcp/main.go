package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/scrapeflow/models"
)

func main() {
	apiURL := os.Getenv("SCRAPEFLOW_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SCRAPEFLOW_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "SCRAPEFLOW_API_KEY is required")
		os.Exit(1)
	}
	c := &client{
		http:   &http.Client{Timeout: 180 * time.Second},
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
	}

	s := server.NewMCPServer(
		"scrapeflow",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Scrape a web page and return the requested extraction categories: page text, links, images, structured data and CSS/XPath selector matches."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("tier",
			mcp.Description("Speed/quality profile: 'fast' (plain HTTP, text only), 'simple' (browser, generic categories) or 'advanced' (default, full rendering)"),
			mcp.Enum("fast", "simple", "advanced"),
		),
		mcp.WithArray("categories",
			mcp.Description("Categories to extract: any of 'text', 'links', 'images', 'structured_data'. Defaults to 'text'."),
		),
		mcp.WithString("selectors",
			mcp.Description(`Optional JSON object mapping names to CSS selectors, e.g. {"price": ".price"}`),
		),
	)
	s.AddTool(scrapeTool, c.handleScrape)

	asyncTool := mcp.NewTool("scrape_async",
		mcp.WithDescription("Start a scrape whose result is POSTed to a webhook. Returns a task id to poll with get_task."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("webhook",
			mcp.Required(),
			mcp.Description("The http(s) endpoint that receives the result"),
		),
		mcp.WithString("tier",
			mcp.Description("Speed/quality profile: 'fast', 'simple' or 'advanced'"),
			mcp.Enum("fast", "simple", "advanced"),
		),
	)
	s.AddTool(asyncTool, c.handleScrapeAsync)

	taskTool := mcp.NewTool("get_task",
		mcp.WithDescription("Look up an asynchronous scrape by task id and report its status and delivery attempts."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("The id returned by scrape_async"),
		),
	)
	s.AddTool(taskTool, c.handleGetTask)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// client proxies tool calls to the scrapeflow HTTP API.
type client struct {
	http   *http.Client
	apiURL string
	apiKey string
}

func (c *client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *client) handleScrape(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}

	req := models.ScrapeRequest{
		URL:  url,
		Tier: models.Tier(request.GetString("tier", "")),
	}
	categories := request.GetStringSlice("categories", []string{"text"})
	for _, cat := range categories {
		switch models.Category(cat) {
		case models.CategoryText:
			req.ExtractText = true
		case models.CategoryLinks:
			req.ExtractLinks = true
		case models.CategoryImages:
			req.ExtractImages = true
		case models.CategoryStructuredData:
			req.ExtractStructuredData = true
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown category %q", cat)), nil
		}
	}
	if raw := request.GetString("selectors", ""); raw != "" {
		var named map[string]string
		if err := json.Unmarshal([]byte(raw), &named); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("selectors must be a JSON object of strings: %v", err)), nil
		}
		names := make([]string, 0, len(named))
		for name := range named {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			req.Selectors = append(req.Selectors, models.Selector{Name: name, Selector: named[name]})
		}
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/scrape", req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var res models.ScrapeResult
	if err := json.Unmarshal(body, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
	}
	if !res.Success {
		return mcp.NewToolResultError(errorText(res.Error, "scrape failed")), nil
	}
	return mcp.NewToolResultText(formatResult(&res)), nil
}

func (c *client) handleScrapeAsync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	webhookURL, err := request.RequireString("webhook")
	if err != nil {
		return mcp.NewToolResultError("webhook is required"), nil
	}

	req := models.ScrapeRequest{
		URL:         url,
		Webhook:     webhookURL,
		Tier:        models.Tier(request.GetString("tier", "")),
		ExtractText: true,
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v1/scrape", req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var accepted struct {
		models.AsyncResponse
		Error *models.ErrorDetail `json:"error"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
	}
	if !accepted.Success {
		return mcp.NewToolResultError(errorText(accepted.Error, "scrape was not accepted")), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s accepted (%s); the result will be delivered to %s",
		accepted.TaskID, accepted.Status, accepted.Webhook)), nil
}

func (c *client) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp struct {
		models.TaskResponse
		Error *models.ErrorDetail `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
	}
	if !resp.Success || resp.Task == nil {
		return mcp.NewToolResultError(errorText(resp.Error, "task lookup failed")), nil
	}

	t := resp.Task
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s: %s\nDelivery attempts: %d\n", t.ID, t.Status, t.DeliveryAttempts)
	if t.Error != nil {
		fmt.Fprintf(&sb, "Error: [%s] %s\n", t.Error.Code, t.Error.Message)
	}
	if t.Result != nil && t.Result.Success {
		sb.WriteString("\n")
		sb.WriteString(formatResult(t.Result))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func errorText(detail *models.ErrorDetail, fallback string) string {
	if detail == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", detail.Code, detail.Message)
}

// formatResult renders a successful result as plain text for the model.
func formatResult(res *models.ScrapeResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: %s (engine %s, %d attempt(s), cache %s)\n",
		res.URL, res.Provenance.Engine, res.Provenance.Attempts, res.Provenance.CacheStatus)

	for _, cat := range models.AllCategories {
		cr, ok := res.Data[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n", cat)
		if cr.Error != nil {
			fmt.Fprintf(&sb, "error: [%s] %s\n", cr.Error.Code, cr.Error.Message)
			continue
		}
		switch {
		case cat == models.CategoryText && cr.Text != nil:
			if cr.Text.Title != "" {
				fmt.Fprintf(&sb, "Title: %s\n\n", cr.Text.Title)
			}
			if cr.Text.Markdown != "" {
				sb.WriteString(cr.Text.Markdown)
			} else {
				sb.WriteString(cr.Text.Text)
			}
			fmt.Fprintf(&sb, "\n\n(~%d tokens)\n", cr.Text.Tokens)
		case cat == models.CategoryLinks && cr.Links != nil:
			for _, l := range cr.Links.Internal {
				fmt.Fprintf(&sb, "- %s %s\n", l.Href, l.Text)
			}
			for _, l := range cr.Links.External {
				fmt.Fprintf(&sb, "- (external) %s %s\n", l.Href, l.Text)
			}
		default:
			b, _ := json.MarshalIndent(cr, "", "  ")
			sb.Write(b)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
