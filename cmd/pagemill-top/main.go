// Package main provides pagemill-top, a terminal monitor for a running
// pagemill instance. It polls /healthz and renders pool occupancy, queue
// depth, and task counters.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Rorqualx/pagemill/internal/types"
)

func main() {
	endpoint := flag.String("endpoint", "http://127.0.0.1:8137", "pagemill base URL")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	m := newModel(*endpoint, *interval)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "pagemill-top: %v\n", err)
		os.Exit(1)
	}
}

type snapshotMsg struct {
	snap types.HealthSnapshot
	err  error
}

type tickMsg struct{}

type model struct {
	endpoint string
	interval time.Duration
	client   *http.Client
	styles   styles

	snap    types.HealthSnapshot
	lastErr error
	polled  time.Time
	width   int
}

func newModel(endpoint string, interval time.Duration) model {
	return model{
		endpoint: endpoint,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		styles:   newStyles(),
	}
}

func (m model) Init() tea.Cmd {
	return m.poll
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
		}
		m.polled = time.Now()
		return m, m.tick()
	case tickMsg:
		return m, m.poll
	}
	return m, nil
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// poll fetches one health snapshot.
func (m model) poll() tea.Msg {
	resp, err := m.client.Get(m.endpoint + "/healthz")
	if err != nil {
		return snapshotMsg{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snapshotMsg{err: fmt.Errorf("healthz returned %s", resp.Status)}
	}

	var snap types.HealthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snapshotMsg{err: err}
	}
	return snapshotMsg{snap: snap}
}
