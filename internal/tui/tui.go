package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/chronicle/internal/engine"
	"github.com/tatianab/chronicle/internal/models"
)

type sessionState int

const (
	stateInputHint sessionState = iota
	stateLoading
	statePlaying
	stateError
)

// bridge lets commands running off the update loop push messages back in.
type bridge struct {
	program *tea.Program
}

func (b *bridge) send(msg tea.Msg) {
	if b.program != nil {
		b.program.Send(msg)
	}
}

type model struct {
	ctx       context.Context
	state     sessionState
	engine    *engine.Engine
	session   *engine.Session
	slot      string
	bridge    *bridge
	textInput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	err       error
	gameLog   string
	streaming string
	width     int
	height    int

	// turn numbers the actions sent; only the newest one's messages count.
	turn     int
	inFlight bool
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	appliedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87D787"))

	rejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D78787")).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

func newModel(ctx context.Context, eng *engine.Engine, slot string, sess *engine.Session) model {
	ti := textinput.New()
	ti.Placeholder = "Enter a hint or 'random'..."
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		ctx:       ctx,
		state:     stateInputHint,
		engine:    eng,
		slot:      slot,
		bridge:    &bridge{},
		textInput: ti,
		spinner:   sp,
	}
	if sess != nil {
		m.startPlaying(sess)
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

type worldCreatedMsg struct {
	session *engine.Session
}

type chunkMsg struct {
	turn int
	text string
}

type turnProcessedMsg struct {
	turn    int
	outcome engine.TurnOutcome
	err     error
}

type errMsg struct {
	err error
}

func (m model) logWidth() int {
	return int(float64(m.width) * 0.75)
}

func (m *model) startPlaying(sess *engine.Session) {
	m.session = sess
	m.state = statePlaying
	s := sess.State()

	header := gameStyle.Bold(true).Render(s.World.Title)
	m.gameLog = header + "\n\n" + gameStyle.Width(m.logWidth()).Render(s.World.Description) + "\n\n"
	if s.History.Summary != "" {
		m.gameLog += helpStyle.Width(m.logWidth()).Render(s.History.Summary) + "\n\n"
	}
	for _, h := range s.History.Entries {
		m.gameLog += userStyle.Width(m.logWidth()).Render("> "+h.PlayerAction) + "\n\n"
		m.gameLog += gameStyle.Width(m.logWidth()).Render(h.Narrative) + "\n\n"
	}
	m.textInput.Placeholder = "What do you do?"
	m.textInput.Reset()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if m.state == stateInputHint {
				hint := m.textInput.Value()
				if hint == "" {
					hint = "random"
				}
				m.state = stateLoading
				return m, tea.Batch(m.createWorld(hint), m.spinner.Tick)
			}
			if m.state == statePlaying {
				action := strings.TrimSpace(m.textInput.Value())
				if action == "" {
					return m, nil
				}
				m.textInput.Reset()

				switch action {
				case "/quit":
					return m, tea.Quit
				case "/restart":
					m.state = stateInputHint
					m.gameLog = ""
					m.streaming = ""
					m.session = nil
					m.inFlight = false
					m.turn++
					m.textInput.Placeholder = "Enter a hint or 'random'..."
					return m, nil
				}

				// A turn still streaming is abandoned; the session cancels it.
				if m.inFlight && m.streaming != "" {
					m.gameLog += helpStyle.Render(m.streaming+" ...") + "\n\n"
				}
				m.streaming = ""
				m.turn++
				m.inFlight = true
				m.gameLog += userStyle.Width(m.logWidth()).Render("> "+action) + "\n\n"
				m.refresh()
				return m, m.processTurn(m.turn, action)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.viewport.Width == 0 {
			m.viewport = viewport.New(m.logWidth(), msg.Height-6)
		}
		m.viewport.Width = m.logWidth()
		m.viewport.Height = msg.Height - 6
		if m.state == statePlaying {
			m.refresh()
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case worldCreatedMsg:
		m.startPlaying(msg.session)
		if m.viewport.Width == 0 {
			m.viewport = viewport.New(m.logWidth(), m.height-6)
		}
		m.refresh()
		return m, nil

	case chunkMsg:
		if msg.turn == m.turn {
			m.streaming += msg.text
			m.refresh()
		}
		return m, nil

	case turnProcessedMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		m.inFlight = false
		m.streaming = ""
		if errors.Is(msg.err, engine.ErrTurnSuperseded) {
			return m, nil
		}
		if msg.err != nil {
			m.gameLog += rejectedStyle.Width(m.logWidth()).Render("The story falters: "+msg.err.Error()) + "\n\n"
			m.refresh()
			return m, nil
		}
		m.gameLog += m.renderOutcome(msg.outcome)
		m.refresh()
		return m, nil

	case errMsg:
		m.err = msg.err
		m.state = stateError
		return m, nil
	}

	if m.state == stateInputHint || m.state == statePlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *model) refresh() {
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

func (m model) renderOutcome(out engine.TurnOutcome) string {
	w := m.logWidth()
	s := gameStyle.Width(w).Render(out.Narrative) + "\n"
	for _, c := range out.Changes() {
		s += appliedStyle.Render("  + "+c) + "\n"
	}
	for _, q := range out.Completed {
		s += appliedStyle.Render("  quest completed: "+q) + "\n"
	}
	for _, r := range out.RejectedReasons() {
		s += rejectedStyle.Width(w).Render("  ~ "+r) + "\n"
	}
	return s + "\n"
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateInputHint:
		s = fmt.Sprintf(
			"Welcome to Chronicle!\n\n%s\n\n%s",
			"Give me a hint about the world you want to play in:",
			m.textInput.View(),
		)

	case stateLoading:
		s = fmt.Sprintf("\n  %s Generating your world... please wait.\n", m.spinner.View())

	case statePlaying:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			m.viewport.View(),
			m.renderState(),
		)

		status := helpStyle.Render("Commands: /restart, /quit, or just type what you want to do.")
		if m.inFlight {
			status = m.spinner.View() + helpStyle.Render(" the story unfolds... (a new action interrupts it)")
		}

		s = lipgloss.JoinVertical(lipgloss.Left,
			mainView,
			"\n"+m.textInput.View(),
			"\n"+status,
		)

	case stateError:
		s = fmt.Sprintf("\n  Error: %v\n\nPress Esc to quit.", m.err)
	}

	return "\n" + s + "\n"
}

func (m model) renderState() string {
	if m.session == nil {
		return ""
	}
	state := m.session.State()

	var b strings.Builder
	loc, _ := state.Location(state.CurrentLocationID)
	b.WriteString(titleStyle.Render("LOCATION") + "\n")
	b.WriteString(orNone(loc.Name) + "\n" + state.Clock.String() + "\n\n")

	b.WriteString(titleStyle.Render("STATS") + "\n")
	names := make([]string, 0, len(state.Player.Attributes))
	for k := range state.Player.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.WriteString(formatAttribute(k, state.Player.Attributes[k]) + "\n")
	}
	fmt.Fprintf(&b, "currency: %d\n\n", state.Player.Currency)

	b.WriteString(titleStyle.Render("INVENTORY") + "\n")
	if len(state.Inventory) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, item := range state.Inventory {
		line := fmt.Sprintf("- %s x%d", item.Name, item.Quantity)
		if item.Equipped {
			line += " (equipped)"
		}
		b.WriteString(line + "\n")
	}

	if len(state.Techniques) > 0 {
		b.WriteString("\n" + titleStyle.Render("TECHNIQUES") + "\n")
		for _, t := range state.Techniques {
			line := "- " + t.Name
			if cd := state.Cooldowns[t.ID]; cd > 0 {
				line += fmt.Sprintf(" (%d)", cd)
			}
			b.WriteString(line + "\n")
		}
	}

	if len(state.ActiveEffects) > 0 {
		b.WriteString("\n" + titleStyle.Render("EFFECTS") + "\n")
		for _, e := range state.ActiveEffects {
			left := "permanent"
			if !e.Permanent() {
				left = fmt.Sprintf("%d left", e.Remaining)
			}
			b.WriteString(fmt.Sprintf("- %s (%s)\n", e.Name, left))
		}
	}

	var quests []string
	for _, q := range state.Quests {
		if q.Status == models.QuestActive {
			quests = append(quests, "- "+q.Title)
		}
	}
	if len(quests) > 0 {
		b.WriteString("\n" + titleStyle.Render("QUESTS") + "\n" + strings.Join(quests, "\n") + "\n")
	}

	stateWidth := int(float64(m.width) * 0.23) // Leave some room for padding
	return stateStyle.Width(stateWidth).Height(m.viewport.Height).Render(b.String())
}

func formatAttribute(name string, a models.Attribute) string {
	s := fmt.Sprintf("%s: %d", name, a.Effective())
	if a.Max != nil {
		s += fmt.Sprintf("/%d", *a.Max)
	}
	if a.Bonus != 0 {
		s += fmt.Sprintf(" (%+d)", a.Bonus)
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "(nowhere)"
	}
	return s
}

func (m model) renderLog() string {
	if m.streaming == "" {
		return m.gameLog
	}
	return m.gameLog + gameStyle.Width(m.logWidth()).Render(m.streaming)
}

func (m model) createWorld(hint string) tea.Cmd {
	return func() tea.Msg {
		sess, err := m.engine.Create(m.ctx, m.slot, hint)
		if err != nil {
			return errMsg{err}
		}
		return worldCreatedMsg{sess}
	}
}

func (m model) processTurn(turn int, action string) tea.Cmd {
	sess, b := m.session, m.bridge
	return func() tea.Msg {
		out, err := sess.ProcessTurn(m.ctx, action, func(chunk string) {
			b.send(chunkMsg{turn: turn, text: chunk})
		})
		return turnProcessedMsg{turn: turn, outcome: out, err: err}
	}
}

// Run starts the play screen on slot. With a nil session the player is first
// asked for a hint and a new world is generated into the slot.
func Run(ctx context.Context, eng *engine.Engine, slot string, sess *engine.Session) error {
	m := newModel(ctx, eng, slot, sess)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.bridge.program = p
	_, err := p.Run()
	return err
}
