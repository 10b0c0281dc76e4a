package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type WebhookMessage struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Timestamp   time.Time `json:"timestamp"`
	Fields      []Field   `json:"fields,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	colorFailed  = 0xFF0000
	colorPartial = 0xFFA500
)

// maxDescription is Discord's embed description limit.
const maxDescription = 4096

type Client struct {
	webhookURL string
	httpClient *http.Client
}

func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook is configured.
func (c *Client) Enabled() bool {
	return c.webhookURL != ""
}

func (c *Client) SendMessage(ctx context.Context, msg WebhookMessage) error {
	if c.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status: %d", resp.StatusCode)
	}

	return nil
}

// RunFailure describes a feed run that did not complete.
type RunFailure struct {
	RunID  string
	Region string
	Agency string
	Source string
	// Stage is empty when the run failed before persistence started.
	Stage     string
	Succeeded int
	Total     int
	Err       error
}

// NotifyRunFailure posts an embed an operator can act on. Runs that had
// committed rows are flagged as partial since they need a purge before retry.
func (c *Client) NotifyRunFailure(ctx context.Context, f RunFailure) error {
	embed := Embed{
		Title:       fmt.Sprintf("🚨 Feed ingestion failed: %s", f.Region),
		Description: truncate(f.Err.Error(), maxDescription),
		Color:       colorFailed,
		Timestamp:   time.Now().UTC(),
		Fields: []Field{
			{Name: "Region", Value: f.Region, Inline: true},
			{Name: "Agency", Value: orDash(f.Agency), Inline: true},
			{Name: "Run", Value: orDash(f.RunID), Inline: true},
			{Name: "Source", Value: orDash(f.Source)},
		},
	}
	if f.Stage != "" {
		embed.Title = fmt.Sprintf("⚠️ Feed ingestion partially written: %s", f.Region)
		embed.Color = colorPartial
		embed.Fields = append(embed.Fields,
			Field{Name: "Stage", Value: f.Stage, Inline: true},
			Field{Name: "Rows committed", Value: fmt.Sprintf("%d/%d", f.Succeeded, f.Total), Inline: true},
		)
	}
	return c.SendMessage(ctx, WebhookMessage{Embeds: []Embed{embed}})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
