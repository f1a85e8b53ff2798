package watch

import (
	"encoding/json"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
)

// --- Message types ---

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Delivered     int    `json:"delivered"`
	Failed        int    `json:"failed"`
	Dead          int    `json:"dead"`
}

type deliveriesMsg []queue.LogEntry

type tickMsg time.Time

// errMsg reports a failed poll along with which endpoint failed, so the
// Update loop can restart the right poll chain.
type errMsg struct {
	source string // "health" or "deliveries"
	err    error
}

// --- Commands ---

// fetchHealth queries the /healthz endpoint.
func fetchHealth(baseURL string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(baseURL + "/healthz")
		if err != nil {
			return errMsg{source: "health", err: err}
		}
		defer resp.Body.Close()

		var h healthMsg
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			return errMsg{source: "health", err: err}
		}
		return h
	}
}

// fetchDeliveries queries the /deliveries endpoint for recent log entries.
func fetchDeliveries(baseURL string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(baseURL + "/deliveries")
		if err != nil {
			return errMsg{source: "deliveries", err: err}
		}
		defer resp.Body.Close()

		var entries []queue.LogEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return errMsg{source: "deliveries", err: err}
		}
		return deliveriesMsg(entries)
	}
}
