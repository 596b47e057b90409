package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/n0roo/toc-kit/internal/buffer"
	"github.com/n0roo/toc-kit/internal/db"
	"github.com/n0roo/toc-kit/internal/project"
	"github.com/n0roo/toc-kit/internal/task"
	"github.com/n0roo/toc-kit/internal/toc"
)

// Tab represents a dashboard tab
type Tab int

const (
	TabOverview Tab = iota
	TabBuffer
	TabWIP
	TabBlockers
)

const tabCount = 4

func (t Tab) String() string {
	return []string{"Overview", "Buffer", "WIP", "Blockers"}[t]
}

// projectBuffer pairs a project with its buffer reading
type projectBuffer struct {
	project *project.Project
	status  *buffer.Status
}

// Model is the main TUI model
type Model struct {
	dbPath string

	// State
	currentTab  Tab
	width       int
	height      int
	ready       bool
	lastRefresh time.Time
	err         error

	// Data
	wip      *toc.WIPStatus
	buffers  []projectBuffer
	blockers []*task.Blocker
	dueSoon  []*task.Task

	// Components
	spinner spinner.Model
}

// tickMsg is sent periodically to refresh data
type tickMsg time.Time

// dataMsg carries refreshed data
type dataMsg struct {
	wip      *toc.WIPStatus
	buffers  []projectBuffer
	blockers []*task.Blocker
	dueSoon  []*task.Task
	err      error
}

// NewModel creates a new TUI model
func NewModel(dbPath string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		dbPath:     dbPath,
		currentTab: TabOverview,
		spinner:    s,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.refreshData,
		tickEvery(5*time.Second),
	)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshData fetches fresh data
func (m Model) refreshData() tea.Msg {
	data := dataMsg{}

	database, err := db.Open(m.dbPath)
	if err != nil {
		data.err = err
		return data
	}
	defer database.Close()

	engine := toc.NewEngine(database)
	tracker := buffer.NewTracker(database)
	projects := project.NewService(database)
	tasks := task.NewService(database)

	if wip, err := engine.GetWIPStatus(); err == nil {
		data.wip = wip
	}

	if active, err := projects.List("active"); err == nil {
		for _, p := range active {
			if status, err := tracker.Status(p.ID); err == nil {
				data.buffers = append(data.buffers, projectBuffer{project: p, status: status})
			}
		}
	}

	if blockers, err := tasks.ActiveBlockers(""); err == nil {
		data.blockers = blockers
	}

	if dueSoon, err := tasks.DueWithin(24 * time.Hour); err == nil {
		data.dueSoon = dueSoon
	}

	return data
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "1":
			m.currentTab = TabOverview
		case "2":
			m.currentTab = TabBuffer
		case "3":
			m.currentTab = TabWIP
		case "4":
			m.currentTab = TabBlockers
		case "r":
			return m, m.refreshData
		case "tab":
			m.currentTab = Tab((int(m.currentTab) + 1) % tabCount)
		case "shift+tab":
			m.currentTab = Tab((int(m.currentTab) + tabCount - 1) % tabCount)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tickMsg:
		return m, tea.Batch(
			m.refreshData,
			tickEvery(5*time.Second),
		)

	case dataMsg:
		m.wip = msg.wip
		m.buffers = msg.buffers
		m.blockers = msg.blockers
		m.dueSoon = msg.dueSoon
		m.err = msg.err
		m.lastRefresh = time.Now()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.currentTab {
	case TabOverview:
		b.WriteString(m.renderOverviewTab())
	case TabBuffer:
		b.WriteString(m.renderBufferTab())
	case TabWIP:
		b.WriteString(m.renderWIPTab())
	case TabBlockers:
		b.WriteString(m.renderBlockersTab())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	title := "⛓ TOC Kit Dashboard"
	refresh := fmt.Sprintf("Last refresh: %s", m.lastRefresh.Format("15:04:05"))

	headerWidth := m.width
	if headerWidth < 60 {
		headerWidth = 60
	}

	left := lipgloss.NewStyle().Bold(true).Render(title)
	right := lipgloss.NewStyle().Foreground(mutedColor).Render(refresh)

	gap := headerWidth - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if gap < 0 {
		gap = 0
	}

	return lipgloss.NewStyle().
		Background(lipgloss.Color("#2D3748")).
		Foreground(lipgloss.Color("#FFFFFF")).
		Padding(0, 1).
		Width(headerWidth).
		Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderTabs() string {
	var tabs []string
	for i := 0; i < tabCount; i++ {
		tab := Tab(i)
		style := tabStyle
		if tab == m.currentTab {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(fmt.Sprintf("[%d]%s", i+1, tab.String())))
	}
	return strings.Join(tabs, " ")
}

func (m Model) renderFooter() string {
	help := "  [1-4] Switch tabs  [Tab] Next  [r] Refresh  [q] Quit"
	return helpStyle.Render(help)
}

func (m Model) renderOverviewTab() string {
	var b strings.Builder

	// WIP summary
	wipLine := statusMutedStyle.Render("no data")
	switchLine := ""
	if m.wip != nil {
		style := zoneGreenStyle
		if !m.wip.WithinLimit {
			style = zoneRedStyle
		} else if m.wip.Current == m.wip.Limit-1 {
			style = zoneYellowStyle
		}
		wipLine = style.Render(fmt.Sprintf("%d/%d", m.wip.Current, m.wip.Limit))
		switchLine = fmt.Sprintf("Switches today: %d", m.wip.ContextSwitchesToday)
	}

	wipBox := boxStyle.Width(35).Render(
		titleStyle.Render("⚙ WIP") + "\n" +
			fmt.Sprintf("In progress: %s\n", wipLine) +
			switchLine,
	)

	// Buffer summary
	red, yellow := 0, 0
	for _, pb := range m.buffers {
		switch pb.status.Zone {
		case buffer.ZoneRed:
			red++
		case buffer.ZoneYellow:
			yellow++
		}
	}

	bufferBox := boxStyle.Width(35).Render(
		titleStyle.Render("📊 Buffers") + "\n" +
			fmt.Sprintf("Red:    %s\n", zoneRedStyle.Render(fmt.Sprintf("%d", red))) +
			fmt.Sprintf("Yellow: %s\n", zoneYellowStyle.Render(fmt.Sprintf("%d", yellow))) +
			fmt.Sprintf("Total:  %d", len(m.buffers)),
	)

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, wipBox, "  ", bufferBox))
	b.WriteString("\n\n")

	// Blockers + deadlines
	blockerBox := boxStyle.Width(35).Render(
		titleStyle.Render("⛔ Blockers") + "\n" +
			fmt.Sprintf("Open: %s", zoneRedStyle.Render(fmt.Sprintf("%d", len(m.blockers)))),
	)

	dueBox := boxStyle.Width(35).Render(
		titleStyle.Render("⏰ Due <24h") + "\n" +
			fmt.Sprintf("Tasks: %s", zoneYellowStyle.Render(fmt.Sprintf("%d", len(m.dueSoon)))),
	)

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, blockerBox, "  ", dueBox))

	return b.String()
}

func (m Model) renderBufferTab() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("📊 Project Buffers"))
	b.WriteString("\n\n")

	if len(m.buffers) == 0 {
		b.WriteString(statusMutedStyle.Render("  No active projects"))
		return b.String()
	}

	for _, pb := range m.buffers {
		zone := ZoneStyle(pb.status.Zone).Render(fmt.Sprintf("%-6s", pb.status.Zone))
		bar := RenderProgressBar(pb.status.ConsumedPercent, 20)
		b.WriteString(fmt.Sprintf("  %s %s %5.1f%%  %s\n",
			zone, bar, pb.status.ConsumedPercent, pb.project.Name))
		b.WriteString(subtitleStyle.Render(
			fmt.Sprintf("         progress %.0f%%  penetration %.2f",
				pb.status.ProgressPercent, pb.status.PenetrationRate)))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderWIPTab() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("⚙ Work In Progress"))
	b.WriteString("\n\n")

	if m.wip == nil {
		b.WriteString(statusMutedStyle.Render("  No data"))
		return b.String()
	}

	limitStyle := zoneGreenStyle
	if !m.wip.WithinLimit {
		limitStyle = zoneRedStyle
	}
	b.WriteString(fmt.Sprintf("  Limit: %s\n\n",
		limitStyle.Render(fmt.Sprintf("%d/%d", m.wip.Current, m.wip.Limit))))

	if len(m.wip.ActiveTasks) == 0 {
		b.WriteString(statusMutedStyle.Render("  Nothing in progress"))
		return b.String()
	}

	for _, t := range m.wip.ActiveTasks {
		icon := StatusIcon(t.Status)
		elapsed := ""
		if t.ActualStart.Valid {
			elapsed = subtitleStyle.Render(
				fmt.Sprintf(" (%s)", time.Since(t.ActualStart.Time).Round(time.Minute)))
		}
		b.WriteString(fmt.Sprintf("  %s %s%s\n", icon, t.Title, elapsed))
	}

	return b.String()
}

func (m Model) renderBlockersTab() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("⛔ Open Blockers"))
	b.WriteString("\n\n")

	if len(m.blockers) == 0 {
		b.WriteString(statusMutedStyle.Render("  No open blockers"))
		return b.String()
	}

	for _, bl := range m.blockers {
		line := fmt.Sprintf("  %s %s", zoneRedStyle.Render("✗"), bl.Description)
		if bl.WaitingOn.Valid && bl.WaitingOn.String != "" {
			line += subtitleStyle.Render(fmt.Sprintf(" (waiting: %s)", bl.WaitingOn.String))
		}
		b.WriteString(line + "\n")
		b.WriteString(subtitleStyle.Render(
			fmt.Sprintf("     %s, opened %s", bl.BlockerType, bl.CreatedAt.Format("01-02 15:04"))))
		b.WriteString("\n")
	}

	return b.String()
}

// Run starts the TUI
func Run(dbPath string) error {
	p := tea.NewProgram(
		NewModel(dbPath),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
