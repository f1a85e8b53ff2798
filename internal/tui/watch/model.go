package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	healthPollInterval   = 5 * time.Second
	deliveryPollInterval = 3 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	baseURL string

	width  int
	height int

	health     HealthState
	deliveries table.Model

	theme Theme

	lastError string
}

// New creates a new watch TUI model polling the relay at baseURL.
func New(baseURL string) *Model {
	return &Model{
		baseURL:    baseURL,
		deliveries: newDeliveryTable(),
		theme:      NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchHealth(m.baseURL),
		fetchDeliveries(m.baseURL),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(fetchHealth(m.baseURL), fetchDeliveries(m.baseURL))
		}
		var cmd tea.Cmd
		m.deliveries, cmd = m.deliveries.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.Delivered = msg.Delivered
		m.health.Failed = msg.Failed
		m.health.Dead = msg.Dead
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(healthPollInterval, func(t time.Time) tea.Msg {
			return fetchHealth(m.baseURL)()
		})

	case deliveriesMsg:
		m.deliveries.SetRows(deliveryRows(msg))
		return m, tea.Tick(deliveryPollInterval, func(t time.Time) tea.Msg {
			return fetchDeliveries(m.baseURL)()
		})

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.err.Error()
		if msg.source == "deliveries" {
			return m, tea.Tick(deliveryPollInterval, func(t time.Time) tea.Msg {
				return fetchDeliveries(m.baseURL)()
			})
		}
		return m, tea.Tick(healthPollInterval, func(t time.Time) tea.Msg {
			return fetchHealth(m.baseURL)()
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.health, m.theme, m.width)
	deliveries := renderDeliveries(m.deliveries, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll Deliveries")

	parts := []string{header, deliveries}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
