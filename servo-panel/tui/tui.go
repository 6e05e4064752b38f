package tui

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Cogni-Robot/init-servo/engine"
	"github.com/Cogni-Robot/init-servo/version"
)

// --- STYLES ---
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#575B7E")).
			Padding(0, 1)

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	statusKeyStyle = lipgloss.NewStyle().Bold(true)

	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	tempCritStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	tempWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	torqueOnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))

	idColStyle    = lipgloss.NewStyle().Width(5).Padding(0, 1)
	posColStyle   = lipgloss.NewStyle().Width(12).Align(lipgloss.Right).Padding(0, 1)
	fieldColStyle = lipgloss.NewStyle().Width(9).Align(lipgloss.Right).Padding(0, 1)
	flagColStyle  = lipgloss.NewStyle().Width(8).Padding(0, 1)
	ageColStyle   = lipgloss.NewStyle().Width(9).Align(lipgloss.Right).Padding(0, 1)
)

// --- MODEL ---
type tickMsg time.Time
type refreshMsg struct{}

type Model struct {
	state          *engine.State
	queue          *engine.Queue
	refresh        <-chan struct{}
	log            *log.Logger
	tempLimit      uint8
	viewport       viewport.Model
	textInput      textinput.Model
	ready          bool
	lastDataRender string
}

func NewModel(state *engine.State, queue *engine.Queue, refresh <-chan struct{}, logger *log.Logger, tempLimit uint8) Model {
	ti := textinput.New()
	ti.Placeholder = "move 3 2048 | torque 3 on | scan | id 1 7"
	ti.Focus()

	return Model{
		state:     state,
		queue:     queue,
		refresh:   refresh,
		log:       logger,
		tempLimit: tempLimit,
		textInput: ti,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForRefresh())
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForRefresh forwards the worker's fresh-data signal into the TUI loop.
func (m Model) waitForRefresh() tea.Cmd {
	return func() tea.Msg {
		<-m.refresh
		return refreshMsg{}
	}
}

// --- UPDATE ---
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.textInput.Focused() {
			switch msg.Type {
			case tea.KeyEnter:
				m.handleCommand()
				return m, nil
			case tea.KeyCtrlC, tea.KeyEsc:
				m.textInput.Blur()
				return m, nil
			}
		} else {
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "i", "c":
				m.textInput.Focus()
				return m, nil
			case "r":
				m.queue.Send(engine.RescanCmd{})
				m.state.SetStatus("Queued rescan")
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		statusPaneHeight := 9
		footerHeight := 3
		verticalMargin := statusPaneHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMargin)
			m.viewport.Style = baseStyle
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMargin
		}
		m.lastDataRender = ""

	case tickMsg:
		m.rerender()
		return m, tick()

	case refreshMsg:
		m.rerender()
		return m, m.waitForRefresh()
	}

	if m.textInput.Focused() {
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) rerender() {
	newRender := m.renderDataPane()
	if m.lastDataRender != newRender {
		m.viewport.SetContent(newRender)
		m.lastDataRender = newRender
	}
}

func (m *Model) handleCommand() {
	input := strings.TrimSpace(m.textInput.Value())
	defer m.textInput.SetValue("")
	if input == "" {
		return
	}
	m.log.Printf("TUI: User input: '%s'", input)
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])

	switch command {
	case "move", "m":
		if len(parts) < 3 {
			m.state.SetStatus("Error: 'move' requires id and position.")
			return
		}
		id, ok := m.parseID(parts[1])
		if !ok {
			return
		}
		pos, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			m.state.SetStatus(fmt.Sprintf("Error: Invalid position '%s'.", parts[2]))
			return
		}
		speed := uint64(1000)
		accel := uint64(50)
		if len(parts) > 3 {
			if speed, err = strconv.ParseUint(parts[3], 10, 16); err != nil {
				m.state.SetStatus(fmt.Sprintf("Error: Invalid speed '%s'.", parts[3]))
				return
			}
		}
		if len(parts) > 4 {
			if accel, err = strconv.ParseUint(parts[4], 10, 8); err != nil {
				m.state.SetStatus(fmt.Sprintf("Error: Invalid acceleration '%s'.", parts[4]))
				return
			}
		}
		cmd := engine.MoveCmd{ID: id, Position: uint16(pos), Speed: uint16(speed), Acceleration: uint8(accel)}
		if err := cmd.Validate(); err != nil {
			m.state.SetStatus(fmt.Sprintf("Error: %v", err))
			return
		}
		m.queue.Send(cmd)
		m.state.SetStatus(fmt.Sprintf("Queued move %d -> %d", id, pos))

	case "torque", "t":
		if len(parts) < 3 {
			m.state.SetStatus("Error: 'torque' requires id and on|off.")
			return
		}
		id, ok := m.parseID(parts[1])
		if !ok {
			return
		}
		var on bool
		switch strings.ToLower(parts[2]) {
		case "on", "1":
			on = true
		case "off", "0":
			on = false
		default:
			m.state.SetStatus(fmt.Sprintf("Error: Expected on|off, got '%s'.", parts[2]))
			return
		}
		m.queue.Send(engine.TorqueCmd{ID: id, On: on})
		m.state.SetStatus(fmt.Sprintf("Queued torque %d %s", id, parts[2]))

	case "scan", "rescan":
		m.queue.Send(engine.RescanCmd{})
		m.state.SetStatus("Queued rescan")

	case "id":
		if len(parts) < 3 {
			m.state.SetStatus("Error: 'id' requires current and new id.")
			return
		}
		// Reassignment is only safe with exactly one servo on the link.
		if n := len(m.state.Snapshot()); n != 1 {
			m.state.SetStatus(fmt.Sprintf("Error: id change needs exactly one servo connected (have %d).", n))
			return
		}
		oldID, ok := m.parseID(parts[1])
		if !ok {
			return
		}
		newID64, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			m.state.SetStatus(fmt.Sprintf("Error: Invalid new id '%s'.", parts[2]))
			return
		}
		cmd := engine.ChangeIDCmd{CurrentID: oldID, NewID: uint8(newID64)}
		if err := cmd.Validate(); err != nil {
			m.state.SetStatus(fmt.Sprintf("Error: %v", err))
			return
		}
		m.queue.Send(cmd)
		m.state.SetStatus(fmt.Sprintf("Queued id change %d -> %d", oldID, newID64))

	default:
		m.state.SetStatus(fmt.Sprintf("Error: Unknown command '%s'.", command))
	}
}

func (m *Model) parseID(s string) (uint8, bool) {
	id, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		m.state.SetStatus(fmt.Sprintf("Error: Invalid servo id '%s'.", s))
		return 0, false
	}
	return uint8(id), true
}

// --- VIEW ---
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatusPane(),
		m.viewport.View(),
		m.renderFooter(),
	)
}

func (m Model) renderStatusPane() string {
	stats := m.state.Stats()
	conn := disconnectedStyle.Render("DISCONNECTED")
	if m.state.Connected() {
		conn = connectedStyle.Render("CONNECTED")
	}
	lastErr := stats.LastError
	if lastErr == "" {
		lastErr = "-"
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Cogni-Robot Servo Panel"),
		statusKeyStyle.Render("Version:    ")+version.Version,
		statusKeyStyle.Render("Link:       ")+conn,
		statusKeyStyle.Render("Cycles:     ")+fmt.Sprintf("%d (last %.1f ms)", stats.Cycles, float64(stats.LastCycle.Microseconds())/1000.0),
		statusKeyStyle.Render("Last error: ")+lastErr,
		statusKeyStyle.Render("Status:     ")+m.state.Status(),
	)
	return baseStyle.Width(m.viewport.Width).Render(content)
}

func (m Model) renderDataPane() string {
	servos := m.state.Snapshot()

	var content strings.Builder
	header := lipgloss.JoinHorizontal(lipgloss.Left,
		idColStyle.Render("ID"),
		posColStyle.Render("Position"),
		posColStyle.Render("Target"),
		fieldColStyle.Render("Temp"),
		fieldColStyle.Render("Volt"),
		fieldColStyle.Render("Curr"),
		fieldColStyle.Render("Load"),
		fieldColStyle.Render("Speed"),
		flagColStyle.Render("Torque"),
		flagColStyle.Render("Moving"),
		ageColStyle.Render("Age"),
	)
	content.WriteString(titleStyle.Width(m.viewport.Width).Render(header) + "\n")

	if len(servos) == 0 {
		if m.state.Connected() {
			content.WriteString("No servos detected. Press (r) or type 'scan' to rescan.")
		} else {
			content.WriteString("Waiting for serial connection...")
		}
		return content.String()
	}

	for _, sv := range servos {
		temp := "N/A"
		tempStyle := lipgloss.NewStyle()
		if t, ok := sv.Temperature.Get(); ok {
			temp = fmt.Sprintf("%d C", t)
			tempStyle = tempStyleFor(t, m.tempLimit)
		}
		torque := "off"
		torqueStyle := lipgloss.NewStyle()
		if sv.TorqueOn {
			torque = "ON"
			torqueStyle = torqueOnStyle
		}
		moving := "-"
		if mv, ok := sv.Moving.Get(); ok {
			if mv {
				moving = "yes"
			} else {
				moving = "no"
			}
		}

		age := time.Since(sv.LastUpdate)
		rowStyle := lipgloss.NewStyle()
		if age > 2*time.Second {
			rowStyle = staleStyle
		}

		line := lipgloss.JoinHorizontal(lipgloss.Left,
			idColStyle.Render(fmt.Sprintf("%d", sv.ID)),
			posColStyle.Render(fmt.Sprintf("%d", sv.MeasuredPosition)),
			posColStyle.Render(fmt.Sprintf("%d", sv.CommandedPosition)),
			fieldColStyle.Render(tempStyle.Render(temp)),
			fieldColStyle.Render(fmtOpt(sv.Voltage, "%.1fV")),
			fieldColStyle.Render(fmtOpt(sv.Current, "%.2fA")),
			fieldColStyle.Render(fmtOpt(sv.Load, "%.1f%%")),
			fieldColStyle.Render(fmtOptInt(sv.Speed)),
			flagColStyle.Render(torqueStyle.Render(torque)),
			flagColStyle.Render(moving),
			ageColStyle.Render(fmtAge(age)),
		)
		content.WriteString(rowStyle.Render(line) + "\n")
	}
	return content.String()
}

// tempStyleFor highlights temperatures against the configured alarm limit:
// critical at the limit, warning within 15 degrees of it. A zero limit
// disables highlighting, matching the disabled alarm machinery.
func tempStyleFor(t, limit uint8) lipgloss.Style {
	if limit == 0 {
		return lipgloss.NewStyle()
	}
	if t >= limit {
		return tempCritStyle
	}
	if int(t)+15 >= int(limit) {
		return tempWarnStyle
	}
	return lipgloss.NewStyle()
}

func fmtOpt(v engine.Value[float64], format string) string {
	if val, ok := v.Get(); ok {
		return fmt.Sprintf(format, val)
	}
	return "N/A"
}

func fmtOptInt(v engine.Value[int16]) string {
	if val, ok := v.Get(); ok {
		return fmt.Sprintf("%d", val)
	}
	return "N/A"
}

func fmtAge(age time.Duration) string {
	if age < time.Second {
		return fmt.Sprintf("%dms", age.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", age.Seconds())
}

func (m Model) renderFooter() string {
	help := "Scroll with arrows | (i) input command | (r) rescan | (q) quit"
	if m.textInput.Focused() {
		help = "Enter command and press Esc to cancel"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.textInput.View(),
		help,
	)
}
