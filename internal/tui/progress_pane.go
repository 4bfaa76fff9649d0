package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/scheduler"
)

// ProgressPaneModel shows execution status, task counts and health.
type ProgressPaneModel struct {
	status    execution.Status
	total     int
	completed int
	running   int
	failed    int
	skipped   int
	pending   int
	health    *health.Snapshot
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates an empty progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// SetState recomputes the pane from a merged execution state.
func (m *ProgressPaneModel) SetState(st events.State) {
	if st.Execution != nil {
		m.status = st.Execution.Status
		if st.Execution.Health != nil {
			m.health = st.Execution.Health
		}
	}
	if st.Health != nil {
		m.health = st.Health
	}

	m.total, m.completed, m.running, m.failed, m.skipped, m.pending = len(st.Tasks), 0, 0, 0, 0, 0
	for _, t := range st.Tasks {
		switch t.Status {
		case scheduler.TaskCompleted:
			m.completed++
		case scheduler.TaskFailed:
			m.failed++
		case scheduler.TaskSkipped:
			m.skipped++
		case scheduler.TaskAssigned, scheduler.TaskInProgress:
			m.running++
		default:
			m.pending++
		}
	}
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	status := string(m.status)
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(&b, "Status:    %s\n", ExecutionStyle(m.status).Render(status))
	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Skipped:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.skipped)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := ((m.failed + m.skipped) * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n\n", bar, m.completed, m.total)
	}

	if m.health != nil {
		fmt.Fprintf(&b, "Health:    %s\n", HealthStyle(m.health.Score).Render(fmt.Sprintf("%.0f", m.health.Score)))
		for _, issue := range m.health.Issues {
			fmt.Fprintf(&b, "  %s %s\n", StyleStatusFailed.Render("!"), issue)
		}
		if m.health.PredictedCompletion != nil {
			fmt.Fprintf(&b, "ETA:       %s\n", m.health.PredictedCompletion.Format("15:04:05"))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
