package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget     string
	retryEnabled   bool
	maxRetries     string
	baseDelay      string
	parallelism    string
	healthInterval string
	pollInterval   string
	reconnectMode  string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	c := m.config
	m.saveTarget = "project"
	m.retryEnabled = c.Retry.Enabled
	m.maxRetries = strconv.Itoa(c.Retry.MaxRetries)
	m.baseDelay = c.Retry.BaseDelay.Std().String()
	m.parallelism = strconv.Itoa(c.Dispatch.Parallelism)
	m.healthInterval = c.Health.Interval.Std().String()
	m.pollInterval = c.Bridge.PollInterval.Std().String()
	m.reconnectMode = c.Bridge.ReconnectMode
}

func validateCount(least int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not a number")
		}
		if n < least {
			return fmt.Errorf("must be at least %d", least)
		}
		return nil
	}
}

func validateDuration(s string) error {
	_, err := time.ParseDuration(s)
	return err
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project (.autopilot/config.json)", "project"),
					huh.NewOption("Global (~/.autopilot/config.json)", "global"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewConfirm().
				Key("retryEnabled").
				Title("Retry failed tasks").
				Value(&m.retryEnabled),

			huh.NewInput().
				Key("maxRetries").
				Title("Max retries per task").
				Value(&m.maxRetries).
				Validate(validateCount(0)),

			huh.NewInput().
				Key("baseDelay").
				Title("Base retry delay").
				Value(&m.baseDelay).
				Placeholder("1s").
				Validate(validateDuration),

			huh.NewInput().
				Key("parallelism").
				Title("Parallel dispatch").
				Value(&m.parallelism).
				Validate(validateCount(1)),
		).Title("Scheduling"),

		huh.NewGroup(
			huh.NewInput().
				Key("healthInterval").
				Title("Health check interval").
				Value(&m.healthInterval).
				Placeholder("30s").
				Validate(validateDuration),

			huh.NewInput().
				Key("pollInterval").
				Title("Status poll interval").
				Value(&m.pollInterval).
				Placeholder("10s").
				Validate(validateDuration),

			huh.NewSelect[string]().
				Key("reconnectMode").
				Title("Reconnect delay").
				Options(
					huh.NewOption("Exponential", "exponential"),
					huh.NewOption("Fixed", "fixed"),
				).
				Value(&m.reconnectMode),
		).Title("Monitoring"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.projectPath
		if m.saveTarget == "global" {
			targetPath = m.globalPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies validated form values back to the config.
func (m *SettingsPaneModel) applyFormToConfig() {
	c := m.config
	c.Retry.Enabled = m.retryEnabled
	if n, err := strconv.Atoi(m.maxRetries); err == nil {
		c.Retry.MaxRetries = n
	}
	if d, err := time.ParseDuration(m.baseDelay); err == nil {
		c.Retry.BaseDelay = config.Duration(d)
	}
	if n, err := strconv.Atoi(m.parallelism); err == nil {
		c.Dispatch.Parallelism = n
	}
	if d, err := time.ParseDuration(m.healthInterval); err == nil {
		c.Health.Interval = config.Duration(d)
	}
	if d, err := time.ParseDuration(m.pollInterval); err == nil {
		c.Bridge.PollInterval = config.Duration(d)
	}
	c.Bridge.ReconnectMode = m.reconnectMode
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings (applies to the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it resets the form.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.loadFields()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
