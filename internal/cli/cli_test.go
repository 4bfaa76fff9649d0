package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/control"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/plan"
)

const launchPlan = `
id: launch
title: Product launch
items:
  - id: research
    title: Research options
  - id: draft
    title: Send email summary
    dependencies: [research]
`

// setup isolates the global config and writes a project config that keeps
// storage in memory. It returns the project config path.
func setup(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	cfg := config.DefaultConfig()
	cfg.Storage.Path = ""
	cfg.Health.Interval = config.Duration(time.Hour)
	path := filepath.Join(dir, "project.json")
	if err := config.Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return path
}

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	root := NewRootCmd("test")
	for _, name := range []string{"serve", "run", "graph", "init", "history", "start", "status", "metrics", "pause", "resume", "cancel", "watch"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestGraphPrintsLayers(t *testing.T) {
	cfgPath := setup(t)
	planPath := writeFile(t, "launch.yaml", launchPlan)

	out, err := execute(t, "--config", cfgPath, "graph", planPath)
	if err != nil {
		t.Fatalf("graph error = %v\n%s", err, out)
	}
	for _, want := range []string{"valid plan launch", "layer 1", "layer 2", "Research options", "Send email summary"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Research options") > strings.Index(out, "Send email summary") {
		t.Errorf("dependency printed after its dependent:\n%s", out)
	}
}

func TestGraphReportsIssues(t *testing.T) {
	cfgPath := setup(t)
	planPath := writeFile(t, "broken.yaml", `
id: broken
items:
  - id: a
    title: Write report
    dependencies: [ghost]
`)

	out, err := execute(t, "--config", cfgPath, "graph", planPath)
	if err == nil {
		t.Fatalf("graph accepted a plan with a dangling dependency:\n%s", out)
	}
	if !strings.Contains(out, "invalid plan broken") || !strings.Contains(out, "ghost") {
		t.Errorf("output does not name the issue:\n%s", out)
	}
}

func TestRunPlanFile(t *testing.T) {
	cfgPath := setup(t)
	planPath := writeFile(t, "launch.yaml", launchPlan)

	out, err := execute(t, "--config", cfgPath, "run", planPath)
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	for _, want := range []string{string(events.ExecutionStarted), string(events.ExecutionCompleted), "[completed]", "2 total, 2 completed, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryListsRuns(t *testing.T) {
	cfgPath := setup(t)
	dbPath := filepath.Join(t.TempDir(), "autopilot.db")
	cfg, err := config.Load("", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Storage.Path = dbPath
	if err := config.Save(cfg, cfgPath); err != nil {
		t.Fatal(err)
	}
	planPath := writeFile(t, "launch.yaml", launchPlan)

	if out, err := execute(t, "--config", cfgPath, "run", planPath); err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	out, err := execute(t, "--config", cfgPath, "history", "launch", "--json")
	if err != nil {
		t.Fatalf("history error = %v\n%s", err, out)
	}
	var list []execution.Context
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("history --json output: %v\n%s", err, out)
	}
	if len(list) != 1 || list[0].Status != execution.StatusCompleted {
		t.Errorf("history = %+v, want one completed execution", list)
	}
}

func TestRunUnknownPlan(t *testing.T) {
	cfgPath := setup(t)
	if _, err := execute(t, "--config", cfgPath, "run", "does-not-exist"); err == nil {
		t.Error("run succeeded for an unknown plan")
	}
}

func TestInitWritesConfig(t *testing.T) {
	setup(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if out, err := execute(t, "init"); err != nil {
		t.Fatalf("init error = %v\n%s", err, out)
	}
	if _, err := config.Load("", config.ProjectPath); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
	if info, err := os.Stat(config.DefaultConfig().Plans.Dir); err != nil || !info.IsDir() {
		t.Errorf("plans directory not created: %v", err)
	}

	if _, err := execute(t, "init"); err == nil {
		t.Error("second init overwrote the config without --force")
	}
	if out, err := execute(t, "init", "--force"); err != nil {
		t.Errorf("init --force error = %v\n%s", err, out)
	}
}

func TestRemoteCommands(t *testing.T) {
	cfgPath := setup(t)
	cfg, err := config.Load("", cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	p, err := plan.Parse("launch.yaml", []byte(launchPlan))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt, err := newRuntime(ctx, cfg, plan.NewMemorySource(p))
	if err != nil {
		t.Fatalf("newRuntime() error = %v", err)
	}
	defer rt.Close()

	srv := httptest.NewServer(control.NewHandler(rt.engine, nil))
	defer srv.Close()

	out, err := execute(t, "--config", cfgPath, "--server", srv.URL, "start", "launch")
	if err != nil {
		t.Fatalf("start error = %v\n%s", err, out)
	}
	id := strings.TrimSpace(out)
	if _, err := rt.engine.Wait(ctx, id); err != nil {
		t.Fatalf("Wait(%q) error = %v", id, err)
	}

	out, err = execute(t, "--config", cfgPath, "--server", srv.URL, "status", id, "--json")
	if err != nil {
		t.Fatalf("status error = %v\n%s", err, out)
	}
	var st events.State
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status --json output is not a state: %v\n%s", err, out)
	}
	if st.Execution == nil || st.Execution.Status != execution.StatusCompleted || len(st.Tasks) != 2 {
		t.Errorf("status = %+v, want completed with 2 tasks", st.Execution)
	}

	out, err = execute(t, "--config", cfgPath, "--server", srv.URL, "metrics", id)
	if err != nil {
		t.Fatalf("metrics error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "success rate: 100%") {
		t.Errorf("metrics output:\n%s", out)
	}

	if _, err := execute(t, "--config", cfgPath, "--server", srv.URL, "pause", id); err == nil {
		t.Error("pause of a completed execution succeeded")
	}
}

func TestTerminalEvent(t *testing.T) {
	failed := execution.Context{ID: "e1", Status: execution.StatusFailed}
	running := execution.Context{ID: "e1", Status: execution.StatusRunning}

	tests := []struct {
		name string
		ev   events.BridgeEvent
		want bool
	}{
		{"completed", events.New(events.ExecutionCompleted, "e1", events.State{}), true},
		{"cancelled", events.New(events.ExecutionCancelled, "e1", events.State{}), true},
		{"fatal error", events.New(events.Error, "e1", events.State{Execution: &failed}), true},
		{"transient error", events.New(events.Error, "e1", events.State{Execution: &running}), false},
		{"task", events.New(events.TaskCompleted, "e1", events.State{}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := terminalEvent(tt.ev); got != tt.want {
				t.Errorf("terminalEvent() = %v, want %v", got, tt.want)
			}
		})
	}
}
