package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhook(t *testing.T, status int) (*httptest.Server, <-chan WebhookMessage) {
	t.Helper()
	received := make(chan WebhookMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var msg WebhookMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func TestNotifyPartialWrite(t *testing.T) {
	srv, received := webhook(t, http.StatusNoContent)

	err := NewClient(srv.URL).NotifyRunFailure(context.Background(), RunFailure{
		RunID:     "run-1",
		Region:    "BA",
		Agency:    "BA",
		Stage:     "arrival_points",
		Succeeded: 20,
		Total:     50,
		Err:       errors.New("connection reset"),
	})
	require.NoError(t, err)

	msg := <-received
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, colorPartial, embed.Color)
	assert.Equal(t, "connection reset", embed.Description)
	assert.Contains(t, embed.Fields, Field{Name: "Rows committed", Value: "20/50", Inline: true})
	assert.Contains(t, embed.Fields, Field{Name: "Source", Value: "-"})
}

func TestNotifyParseFailure(t *testing.T) {
	srv, received := webhook(t, http.StatusOK)

	err := NewClient(srv.URL).NotifyRunFailure(context.Background(), RunFailure{
		Region: "BA",
		Source: "https://example.com/gtfs.zip",
		Err:    errors.New("missing required resource: stops.txt"),
	})
	require.NoError(t, err)

	embed := (<-received).Embeds[0]
	assert.Equal(t, colorFailed, embed.Color)
	for _, f := range embed.Fields {
		assert.NotEqual(t, "Stage", f.Name)
	}
}

func TestSendMessageStatus(t *testing.T) {
	srv, _ := webhook(t, http.StatusTooManyRequests)
	err := NewClient(srv.URL).SendMessage(context.Background(), WebhookMessage{Content: "hi"})
	assert.ErrorContains(t, err, "429")
}

func TestDisabledClient(t *testing.T) {
	c := NewClient("")
	assert.False(t, c.Enabled())
	assert.NoError(t, c.SendMessage(context.Background(), WebhookMessage{Content: "dropped"}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdefgh", 4))
}
