package tui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/scheduler"
)

// Lines per item in either pane (title + subtitle + blank separator).
const itemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39"))

	inactiveBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	activeHeaderStyle   = headerStyle.Foreground(lipgloss.Color("39"))
	inactiveHeaderStyle = headerStyle.Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	itemTitleStyle    = lipgloss.NewStyle().Bold(true)
	itemSubtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(14)

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// resultsModel browses a finished run: executions on the left, the selected
// execution's listings on the right.
type resultsModel struct {
	outcomes   []scheduler.Outcome
	execVP     viewport.Model
	listingVP  viewport.Model
	activePane int // 0=executions, 1=listings
	execCursor int
	listCursor int
	width      int
	height     int
	ready      bool

	view     viewState
	detail   model.Listing
	detailVP viewport.Model
}

func newResultsModel(res scheduler.Result) resultsModel {
	return resultsModel{outcomes: res.Outcomes}
}

func (m resultsModel) Init() tea.Cmd {
	return nil
}

func (m resultsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detailVP.Width = m.width - 4
			m.detailVP.Height = m.height - 4
			m.detailVP.SetContent(m.renderDetail())
		}
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}
	return m, nil
}

func (m resultsModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "tab", "left", "right":
		if m.activePane == 0 && len(m.listings()) == 0 {
			return m, nil
		}
		m.activePane = 1 - m.activePane
		m.recalcContent()
		return m, nil
	case "up", "k":
		m.moveCursor(-1)
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "enter":
		return m.openDetailView()
	}

	var cmd tea.Cmd
	if m.activePane == 0 {
		m.execVP, cmd = m.execVP.Update(msg)
	} else {
		m.listingVP, cmd = m.listingVP.Update(msg)
	}
	return m, cmd
}

func (m resultsModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		openURL(m.detail.URL)
		return m, nil
	}
	var cmd tea.Cmd
	m.detailVP, cmd = m.detailVP.Update(msg)
	return m, cmd
}

func (m resultsModel) listings() []model.Listing {
	if len(m.outcomes) == 0 {
		return nil
	}
	return m.outcomes[m.execCursor].State.Listings
}

func (m *resultsModel) moveCursor(delta int) {
	if m.activePane == 0 {
		m.execCursor = clamp(m.execCursor+delta, 0, max(len(m.outcomes)-1, 0))
		m.listCursor = 0
		m.listingVP.SetYOffset(0)
		return
	}
	m.listCursor = clamp(m.listCursor+delta, 0, max(len(m.listings())-1, 0))
}

func (m *resultsModel) ensureCursorVisible() {
	vp, cursor := &m.execVP, m.execCursor
	if m.activePane == 1 {
		vp, cursor = &m.listingVP, m.listCursor
	}
	top := cursor * itemHeight
	bottom := top + itemHeight - 1
	if top < vp.YOffset {
		vp.SetYOffset(top)
	} else if bottom >= vp.YOffset+vp.Height {
		vp.SetYOffset(bottom - vp.Height + 1)
	}
}

func (m resultsModel) openDetailView() (tea.Model, tea.Cmd) {
	if m.activePane == 0 {
		if len(m.listings()) > 0 {
			m.activePane = 1
			m.recalcContent()
		}
		return m, nil
	}
	ls := m.listings()
	if len(ls) == 0 {
		return m, nil
	}
	m.view = viewDetail
	m.detail = ls[m.listCursor]
	m.detailVP = viewport.New(m.width-4, m.height-4)
	m.detailVP.SetContent(m.renderDetail())
	return m, nil
}

func (m *resultsModel) recalcLayout() {
	paneWidth := max((m.width-5)/2, 20)
	paneHeight := max(m.height-4, 5)

	if !m.ready {
		m.execVP = viewport.New(paneWidth, paneHeight)
		m.listingVP = viewport.New(paneWidth, paneHeight)
		m.ready = true
	} else {
		m.execVP.Width, m.execVP.Height = paneWidth, paneHeight
		m.listingVP.Width, m.listingVP.Height = paneWidth, paneHeight
	}
	m.recalcContent()
}

func (m *resultsModel) recalcContent() {
	m.execVP.SetContent(renderExecutions(m.outcomes, m.execCursor, m.activePane == 0))
	m.listingVP.SetContent(renderListings(m.listings(), m.listCursor, m.activePane == 1))
}

func (m resultsModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m resultsModel) viewList() string {
	paneWidth := m.execVP.Width

	leftHeader := fmt.Sprintf(" Executions (%d)", len(m.outcomes))
	rightHeader := fmt.Sprintf(" Listings (%d)", len(m.listings()))

	leftHeaderSt, rightHeaderSt := activeHeaderStyle, inactiveHeaderStyle
	leftBorder, rightBorder := activeBorderStyle, inactiveBorderStyle
	if m.activePane == 1 {
		leftHeaderSt, rightHeaderSt = inactiveHeaderStyle, activeHeaderStyle
		leftBorder, rightBorder = inactiveBorderStyle, activeBorderStyle
	}

	headerRow := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(paneWidth+2).Render(leftHeaderSt.Render(leftHeader)),
		" ",
		lipgloss.NewStyle().Width(paneWidth+2).Render(rightHeaderSt.Render(rightHeader)),
	)
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		leftBorder.Width(paneWidth).Render(m.execVP.View()),
		" ",
		rightBorder.Width(paneWidth).Render(m.listingVP.View()),
	)

	var total int
	for _, o := range m.outcomes {
		total += o.Record.Persistence.Inserted
	}
	statusText := fmt.Sprintf(" %d new listing(s)    ←/→/Tab switch  ↑/↓ cursor  Enter detail  q quit", total)
	statusBar := statusBarStyle.Width(m.width).Render(statusText)

	return headerRow + "\n" + panes + "\n" + statusBar
}

func (m resultsModel) viewDetail() string {
	title := detailTitleStyle.Render("Listing")
	content := activeBorderStyle.Width(m.width - 2).Render(m.detailVP.View())
	statusBar := statusBarStyle.Width(m.width).Render(" o open URL  esc/backspace back  ↑/↓ scroll  q quit")
	return title + "\n" + content + "\n" + statusBar
}

func (m resultsModel) renderDetail() string {
	l := m.detail
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	addField("Title", l.Title)
	addField("Reference", l.Reference)
	addField("Source", string(l.Source))
	addField("Client", l.Client)
	addField("Location", l.Location)
	addField("Start", l.StartDate)
	addField("End", l.EndDate)
	addField("Skills", l.Skills)
	addField("URL", l.URL)

	if l.DescriptionSummary != "" {
		width := max(m.width-8, 20)
		label := "── Summary "
		b.WriteString("\n" + dividerStyle.Render(label+strings.Repeat("─", max(width-len(label), 3))) + "\n\n")
		b.WriteString(wordWrap(l.DescriptionSummary, width) + "\n")
	}
	return b.String()
}

func renderExecutions(outcomes []scheduler.Outcome, cursor int, isActive bool) string {
	if len(outcomes) == 0 {
		return "  (no executions)"
	}
	var b strings.Builder
	for i, o := range outcomes {
		rec := o.Record
		titleSt, subtitleSt, prefix := itemTitleStyle, itemSubtitleStyle, "  "
		if isActive && i == cursor {
			titleSt, subtitleSt, prefix = selectedTitleStyle, selectedSubtitleStyle, "> "
		} else if !isActive && i == cursor {
			prefix = "• "
		}

		b.WriteString(prefix)
		b.WriteString(statusStyles[rec.Status].Render(statusGlyph(rec.Status)) + " ")
		b.WriteString(titleSt.Render(rec.Workflow))
		b.WriteByte('\n')

		sub := fmt.Sprintf("%s · %d new · %d dup", rec.Status, rec.Persistence.Inserted, rec.Persistence.SkippedDuplicate)
		if rec.Error != "" {
			sub += " · " + truncate(rec.Error, 40)
		}
		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(sub))
		b.WriteByte('\n')
		if i < len(outcomes)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func renderListings(ls []model.Listing, cursor int, isActive bool) string {
	if len(ls) == 0 {
		return "  (no listings)"
	}
	var b strings.Builder
	for i, l := range ls {
		titleSt, subtitleSt, prefix := itemTitleStyle, itemSubtitleStyle, "  "
		if isActive && i == cursor {
			titleSt, subtitleSt, prefix = selectedTitleStyle, selectedSubtitleStyle, "> "
		}
		b.WriteString(prefix)
		b.WriteString(titleSt.Render(orNA(l.Title)))
		b.WriteByte('\n')
		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(fmt.Sprintf("%s · %s", l.Reference, orNA(l.Location))))
		b.WriteByte('\n')
		if i < len(ls)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) <= width {
			line += " " + w
		} else {
			lines = append(lines, line)
			line = w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	if url == "" {
		return
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// RunResults opens the full-screen browser over a finished run.
func RunResults(res scheduler.Result) error {
	p := tea.NewProgram(newResultsModel(res), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
