// Package tui is the terminal monitor for a running switchyard: it follows
// the /events stream and polls /healthz.
package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchyard/internal/events"
)

const (
	maxCalls     = 200
	maxEventLog  = 50
	pollInterval = 5 * time.Second
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusPending = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// CallRow is one call followed through its lifecycle events.
type CallRow struct {
	ID      string
	Service string
	Method  string
	URI     string
	State   string
	Status  int
	Started time.Time
	Ended   time.Time
}

type health struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Outstanding   int            `json:"outstanding"`
	QueueDepths   map[string]int `json:"queue_depths"`
	Routes        int            `json:"routes"`
}

type (
	eventMsg  events.Event
	healthMsg health
	errMsg    struct{ err error }
)

// Model is the bubbletea model of the monitor.
type Model struct {
	apiURL  string
	service string
	client  *http.Client
	feed    chan events.Event

	width  int
	height int

	calls    map[string]*CallRow
	order    []string
	eventLog []events.Event
	health   health
	lastErr  error

	table table.Model
}

// Option configures a monitor.
type Option func(*Model)

// WithService limits the monitor to calls made to one service.
func WithService(name string) Option {
	return func(m *Model) { m.service = strings.TrimSpace(name) }
}

// NewMonitor returns a monitor for the API at apiURL.
func NewMonitor(apiURL string, opts ...Option) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Service", Width: 16},
			{Title: "Method", Width: 14},
			{Title: "Code", Width: 5},
			{Title: "ID", Width: 10},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := &Model{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: &http.Client{Timeout: 2 * time.Second},
		feed:   make(chan events.Event, 100),
		calls:  make(map[string]*CallRow),
		table:  t,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// streamURL is the /events URL the monitor follows. A service filter drops
// bus events, which carry no service.
func (m *Model) streamURL() string {
	if m.service == "" {
		return m.apiURL + "/events"
	}
	q := url.Values{}
	q.Set("type", "call.*")
	q.Set("service", m.service)
	return m.apiURL + "/events?" + q.Encode()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.followEvents(),
		m.receiveNextEvent(),
		m.pollHealth(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case eventMsg:
		m.apply(events.Event(msg))
		m.refreshTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health = health(msg)
		m.lastErr = nil
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.fetchHealth() })

	case errMsg:
		m.lastErr = msg.err
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.fetchHealth() })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// apply folds one event into the call table and the event log.
func (m *Model) apply(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	var data struct {
		CallID  string `json:"call_id"`
		Service string `json:"service"`
		Method  string `json:"method"`
		URI     string `json:"uri"`
		Status  int    `json:"status"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.CallID == "" {
		return
	}

	row, ok := m.calls[data.CallID]
	if !ok {
		row = &CallRow{ID: data.CallID, Started: e.At}
		m.calls[data.CallID] = row
		m.order = append(m.order, data.CallID)
		if len(m.order) > maxCalls {
			delete(m.calls, m.order[0])
			m.order = m.order[1:]
		}
	}
	if data.Service != "" {
		row.Service = data.Service
	}
	if data.Method != "" {
		row.Method = data.Method
	}
	if data.URI != "" {
		row.URI = data.URI
	}
	if data.Status != 0 {
		row.Status = data.Status
	}

	switch e.Type {
	case events.CallAccepted:
		row.State = "pending"
		if data.Status != 0 {
			// void methods are acknowledged on acceptance
			row.State = "acknowledged"
			row.Ended = e.At
		}
	case events.CallCompleted:
		row.State = "completed"
		if data.Status >= http.StatusBadRequest {
			row.State = "failed"
		}
		row.Ended = e.At
	case events.CallTimeout:
		row.State = "timed_out"
		row.Ended = e.At
	case events.CallRejected:
		row.State = "rejected"
		row.Ended = e.At
	}
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		rows = append(rows, rowFor(m.calls[m.order[i]]))
	}
	m.table.SetRows(rows)
}

func rowFor(c *CallRow) table.Row {
	sym := statusMuted.Render("○")
	switch c.State {
	case "pending":
		sym = statusPending.Render("◉")
	case "completed", "acknowledged":
		sym = statusOK.Render("●")
	case "failed", "rejected":
		sym = statusFailed.Render("∅")
	case "timed_out":
		sym = statusFailed.Render("◑")
	}

	duration := "-"
	if !c.Ended.IsZero() {
		duration = c.Ended.Sub(c.Started).Round(time.Millisecond).String()
	}
	code := "-"
	if c.Status != 0 {
		code = strconv.Itoa(c.Status)
	}
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return table.Row{sym, c.Service, c.Method, code, id, duration}
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	calls := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Calls"),
			m.table.View(),
		),
	)
	feed := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Calls")

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), calls, feed, help))
}

func (m *Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	switch {
	case m.lastErr != nil:
		status = statusFailed.Render("UNREACHABLE")
	case m.health.Status != "" && m.health.Status != "ok":
		status = statusFailed.Render("DEGRADED")
	}

	depth := 0
	for _, d := range m.health.QueueDepths {
		depth += d
	}
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", (time.Duration(m.health.UptimeSeconds) * time.Second).String()),
		fmt.Sprintf("Outstanding: %d", m.health.Outstanding),
		fmt.Sprintf("Queued: %d", depth),
		fmt.Sprintf("Routes: %d", m.health.Routes),
	}
	if m.service != "" {
		items = append(items, fmt.Sprintf("Service: %s", m.service))
	}
	cells := make([]string, 0, len(items))
	for _, it := range items {
		cells = append(cells, lipgloss.NewStyle().Width((m.width-4)/len(items)).Render(it))
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m *Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-15s | %s", e.At.Format("15:04:05"), e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// Calls returns the tracked calls, newest first.
func (m *Model) Calls() []CallRow {
	out := make([]CallRow, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.calls[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out
}

func (m *Model) followEvents() tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, m.streamURL(), nil)
		if err != nil {
			return errMsg{err}
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return errMsg{err}
		}
		defer resp.Body.Close()

		if err := ReadSSE(resp.Body, func(ev events.Event) { m.feed <- ev }); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.feed)
	}
}

func (m *Model) pollHealth() tea.Cmd {
	return func() tea.Msg { return m.fetchHealth() }
}

func (m *Model) fetchHealth() tea.Msg {
	resp, err := m.client.Get(m.apiURL + "/healthz")
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	var h health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{fmt.Errorf("decode healthz: %w", err)}
	}
	return healthMsg(h)
}

// ReadSSE parses a server-sent event stream and calls fn for every complete
// event. Comment lines are skipped. It returns when r is exhausted.
func ReadSSE(r io.Reader, fn func(events.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		ev      events.Event
		data    []string
		pending bool
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if pending {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				if ev.At.IsZero() {
					ev.At = time.Now()
				}
				fn(ev)
			}
			ev, data, pending = events.Event{}, nil, false
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			ev.ID, _ = strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64)
			pending = true
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(line[6:])
			pending = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line[5:], " "))
			pending = true
		}
	}
	return sc.Err()
}
