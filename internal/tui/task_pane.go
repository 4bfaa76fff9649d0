package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/scheduler"
)

const taskListWidth = 28

// TaskPaneModel shows the task list of an execution and a scrollable
// detail view of the selected task.
type TaskPaneModel struct {
	tasks       []scheduler.AgentTask // execution order as reported by the server
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{viewport: viewport.New(0, 0)}
}

// SetTasks replaces the task list, keeping the selection on the same task
// when it still exists.
func (m *TaskPaneModel) SetTasks(tasks []scheduler.AgentTask) {
	selected := m.SelectedTaskID()
	m.tasks = tasks
	m.selectedIdx = 0
	for i, t := range tasks {
		if t.ID == selected {
			m.selectedIdx = i
			break
		}
	}
	m.updateViewportContent()
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.tasks)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}
	}

	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	detailWidth := m.width - taskListWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(taskListWidth),
		lipgloss.NewStyle().
			Width(detailWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, t := range m.tasks {
		name := t.Title
		if name == "" {
			name = t.WorkItemID
		}
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(t.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled marker for a task status.
func StatusIcon(status scheduler.TaskStatus) string {
	switch status {
	case scheduler.TaskAssigned, scheduler.TaskInProgress:
		return StyleStatusRunning.Render("●")
	case scheduler.TaskCompleted:
		return StyleStatusComplete.Render("✓")
	case scheduler.TaskFailed:
		return StyleStatusFailed.Render("✗")
	case scheduler.TaskSkipped:
		return StyleStatusPending.Render("-")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the id of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx].ID
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.tasks) {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(taskDetail(m.tasks[m.selectedIdx]))
	m.viewport.GotoTop()
}

func taskDetail(t scheduler.AgentTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", StyleTitle.Render(t.Title))
	fmt.Fprintf(&b, "Work item: %s\n", t.WorkItemID)
	fmt.Fprintf(&b, "Role:      %s\n", t.Role)
	fmt.Fprintf(&b, "Priority:  %s\n", t.Priority)
	fmt.Fprintf(&b, "Status:    %s %s\n", StatusIcon(t.Status), t.Status)
	fmt.Fprintf(&b, "Retries:   %d/%d\n", t.RetryCount, t.MaxRetries)
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(&b, "Depends:   %s\n", strings.Join(t.Dependencies, ", "))
	}
	if len(t.Resources) > 0 {
		fmt.Fprintf(&b, "Resources: %s\n", strings.Join(t.Resources, ", "))
	}
	if d, ok := t.Duration(); ok {
		fmt.Fprintf(&b, "Duration:  %s\n", d.Round(time.Millisecond))
	}
	if t.Error != "" {
		fmt.Fprintf(&b, "\n%s\n%s\n", StyleStatusFailed.Render("Error"), t.Error)
	}
	if len(t.Result) > 0 {
		fmt.Fprintf(&b, "\n%s\n%s\n", StyleStatusComplete.Render("Result"), string(t.Result))
	}
	return b.String()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-taskListWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
