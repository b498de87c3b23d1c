package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/scheduler"
	"github.com/amishk599/jobflow/internal/workflow"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(1, 0, 1, 2)

	rowStyle = lipgloss.NewStyle().Padding(0, 0, 0, 2)

	workflowStyle = lipgloss.NewStyle().Bold(true).Width(22)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	retryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 0, 0, 2)

	statusStyles = map[model.ExecutionStatus]lipgloss.Style{
		model.StatusSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		model.StatusPartial:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		model.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		model.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		model.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	}
)

// eventMsg wraps an executor event forwarded into the program.
type eventMsg workflow.Event

type runDoneMsg struct {
	result scheduler.Result
}

type spinnerTickMsg struct{}

// progressRow is the live view of one execution.
type progressRow struct {
	workflow string
	step     string
	attempt  int
	listings int
	status   model.ExecutionStatus
	lastErr  string
}

type progressModel struct {
	total  int
	order  []string // execution IDs in first-seen order
	rows   map[string]*progressRow
	frame  int
	start  time.Time
	cancel context.CancelFunc

	stopping bool
	done     bool
	result   scheduler.Result
}

func newProgressModel(total int, cancel context.CancelFunc) progressModel {
	return progressModel{
		total:  total,
		rows:   make(map[string]*progressRow),
		start:  time.Now(),
		cancel: cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.tick()
}

func (m progressModel) tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(workflow.Event(msg))
		return m, nil
	case runDoneMsg:
		m.result = msg.result
		m.done = true
		return m, tea.Quit
	case spinnerTickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, m.tick()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			// The run still finalizes; we quit on runDoneMsg.
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		}
	}
	return m, nil
}

func (m *progressModel) apply(ev workflow.Event) {
	row, ok := m.rows[ev.ExecutionID]
	if !ok {
		row = &progressRow{workflow: ev.Workflow, status: model.StatusRunning}
		m.rows[ev.ExecutionID] = row
		m.order = append(m.order, ev.ExecutionID)
	}
	row.listings = ev.Listings
	switch ev.Kind {
	case workflow.EventStepStarted:
		row.step = ev.Step
		row.attempt = ev.Attempt
	case workflow.EventStepRetrying:
		row.attempt = ev.Attempt
		if ev.Err != nil {
			row.lastErr = ev.Err.Error()
		}
	case workflow.EventStepFailed:
		if ev.Err != nil {
			row.lastErr = ev.Err.Error()
		}
	case workflow.EventFinished:
		row.status = ev.Status
		row.step = ""
	}
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("jobflow run (%d sources)", m.total)))
	b.WriteByte('\n')

	spinner := lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Render(spinnerFrames[m.frame])
	for _, id := range m.order {
		row := m.rows[id]
		icon := spinner
		if row.status != model.StatusRunning {
			icon = statusStyles[row.status].Render(statusGlyph(row.status))
		}
		line := fmt.Sprintf("%s %s%s %d listing(s)",
			icon, workflowStyle.Render(row.workflow), stepStyle.Render(row.step), row.listings)
		if row.attempt > 1 && row.status == model.StatusRunning {
			line += retryStyle.Render(fmt.Sprintf("  attempt %d", row.attempt))
		}
		if row.lastErr != "" && row.status != model.StatusSucceeded {
			line += "  " + hintStyle.UnsetPadding().Render(truncate(row.lastErr, 60))
		}
		b.WriteString(rowStyle.Render(line))
		b.WriteByte('\n')
	}
	if waiting := m.total - len(m.order); waiting > 0 {
		b.WriteString(rowStyle.Render(statusStyles[model.StatusPending].Render(fmt.Sprintf("%d waiting", waiting))))
		b.WriteByte('\n')
	}

	hint := fmt.Sprintf("elapsed %s    q/ctrl+c cancel", time.Since(m.start).Round(time.Second))
	if m.stopping {
		hint = "cancelling, saving what was gathered..."
	}
	b.WriteString(hintStyle.Render(hint))
	return b.String()
}

func statusGlyph(s model.ExecutionStatus) string {
	switch s {
	case model.StatusSucceeded:
		return "✓"
	case model.StatusPartial:
		return "◐"
	case model.StatusFailed:
		return "✗"
	default:
		return "·"
	}
}

// RunFunc starts a run whose executors report to obs.
type RunFunc func(ctx context.Context, obs workflow.Observer) scheduler.Result

// RunProgress renders a live view of a run. It renders inline (no alt screen)
// and returns once the run has finished; pressing q cancels the run's context.
func RunProgress(ctx context.Context, total int, run RunFunc) (scheduler.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(total, cancel))

	events := make(chan workflow.Event, 1024)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			p.Send(eventMsg(ev))
		}
	}()

	resultCh := make(chan scheduler.Result, 1)
	go func() {
		res := run(ctx, func(ev workflow.Event) { events <- ev })
		close(events)
		<-forwarded
		resultCh <- res
		p.Send(runDoneMsg{result: res})
	}()

	final, err := p.Run()
	if err != nil {
		// The program died; still wait for the run so nothing is lost.
		cancel()
		return <-resultCh, err
	}
	if m, ok := final.(progressModel); ok && m.done {
		return m.result, nil
	}
	return <-resultCh, nil
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
