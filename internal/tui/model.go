// Package tui is the operator dashboard for one execution, fed by a bridge.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/events"
)

// ControlTimeout bounds a pause, resume or cancel request.
const ControlTimeout = 10 * time.Second

// Controller is the part of the bridge the dashboard uses.
type Controller interface {
	Subscribe(executionID string, fn func(events.BridgeEvent)) func()
	State(executionID string) (events.State, bool)
	Pause(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string) error
	Cancel(ctx context.Context, executionID string) error
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

// eventMsg wraps a bridge event for the update loop.
type eventMsg events.BridgeEvent

// controlMsg reports the outcome of a control request.
type controlMsg struct {
	op  string
	err error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	ctl               Controller
	executionID       string
	taskPane          TaskPaneModel
	progressPane      ProgressPaneModel
	settingsPane      SettingsPaneModel
	focusedPane       PaneID
	eventSub          <-chan events.BridgeEvent
	unsubscribe       func()
	notice            string
	width             int
	height            int
	quitting          bool
	showSettings      bool
	config            *config.Config
	globalConfigPath  string
	projectConfigPath string
}

// New creates a new TUI model following one execution. Events are buffered
// between the bridge and the update loop; when the buffer is full an event
// is dropped, which loses nothing because every redraw reads the bridge's
// merged state.
func New(ctl Controller, executionID string, cfg *config.Config, globalPath, projectPath string) Model {
	sub := make(chan events.BridgeEvent, events.DefaultBufferSize)
	unsub := ctl.Subscribe(executionID, func(ev events.BridgeEvent) {
		select {
		case sub <- ev:
		default:
		}
	})

	m := Model{
		ctl:               ctl,
		executionID:       executionID,
		taskPane:          NewTaskPaneModel(),
		progressPane:      NewProgressPaneModel(),
		settingsPane:      NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:       PaneTasks,
		eventSub:          sub,
		unsubscribe:       unsub,
		config:            cfg,
		globalConfigPath:  globalPath,
		projectConfigPath: projectPath,
	}
	m.refresh()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next bridge event.
func waitForEvent(sub <-chan events.BridgeEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m Model) control(op string, fn func(context.Context, string) error) tea.Cmd {
	id := m.executionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), ControlTimeout)
		defer cancel()
		return controlMsg{op: op, err: fn(ctx, id)}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showSettings {
			if msg.String() == "esc" {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}

			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
				if m.settingsPane.Saved() {
					m.notice = "settings saved"
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			if m.unsubscribe != nil {
				m.unsubscribe()
			}
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyPause:
			cmds = append(cmds, m.control("pause", m.ctl.Pause))

		case KeyResume:
			cmds = append(cmds, m.control("resume", m.ctl.Resume))

		case KeyCancel:
			cmds = append(cmds, m.control("cancel", m.ctl.Cancel))

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case eventMsg:
		if msg.Type == events.Error && msg.Message != "" {
			m.notice = msg.Message
		}
		m.refresh()
		cmds = append(cmds, waitForEvent(m.eventSub))

	case controlMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		} else {
			m.notice = msg.op + " requested"
		}
		m.refresh()
	}

	return m, tea.Batch(cmds...)
}

// refresh redraws the panes from the bridge's merged state.
func (m *Model) refresh() {
	st, ok := m.ctl.State(m.executionID)
	if !ok {
		return
	}
	m.taskPane.SetTasks(st.Tasks)
	m.progressPane.SetState(st)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())

	footer := HelpView()
	if m.notice != "" {
		footer = StyleNotice.Render(m.notice) + "  " + footer
	}
	header := StyleTitle.Render("autopilot · " + m.executionID)

	return lipgloss.JoinVertical(lipgloss.Left, header, mainContent, footer)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2 // header and help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
