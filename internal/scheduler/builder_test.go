package scheduler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/aristath/autopilot/internal/plan"
)

// TestBuildLinearChain covers three keyword-free items A <- B <- C.
func TestBuildLinearChain(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "A", Title: "Alpha", Risk: plan.RiskMedium},
		{ID: "B", Title: "Beta", Risk: plan.RiskMedium, Dependencies: []string{"A"}},
		{ID: "C", Title: "Gamma", Risk: plan.RiskMedium, Dependencies: []string{"B"}},
	}

	tasks, v := NewBuilder(2).Build("", items)
	if !v.Valid {
		t.Fatalf("expected valid graph, issues: %v", v.Issues)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}

	wantDeps := map[string][]string{
		"A/coordination": {},
		"B/coordination": {"A/coordination"},
		"C/coordination": {"B/coordination"},
	}
	for _, task := range tasks {
		if task.Role != RoleCoordination {
			t.Errorf("task %s role = %s, want coordination", task.ID, task.Role)
		}
		if task.MaxRetries != 2 {
			t.Errorf("task %s maxRetries = %d, want 2", task.ID, task.MaxRetries)
		}
		if !reflect.DeepEqual(task.Dependencies, wantDeps[task.ID]) {
			t.Errorf("task %s dependencies = %v, want %v", task.ID, task.Dependencies, wantDeps[task.ID])
		}
	}

	order, err := TopologicalOrder(tasks)
	if err != nil {
		t.Fatalf("TopologicalOrder() error = %v", err)
	}
	want := []string{"A/coordination", "B/coordination", "C/coordination"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

// TestBuildMultiRoleItem covers an item matching communication and scheduling.
func TestBuildMultiRoleItem(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "w1", Title: "Send email and schedule meeting", Risk: plan.RiskLow},
	}

	tasks, v := NewBuilder(3).Build("exec-1", items)
	if !v.Valid {
		t.Fatalf("expected valid graph, issues: %v", v.Issues)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d: %+v", len(tasks), tasks)
	}

	comm, sched := tasks[0], tasks[1]
	if comm.Role != RoleCommunication || sched.Role != RoleScheduling {
		t.Fatalf("roles = [%s %s], want [communication scheduling]", comm.Role, sched.Role)
	}
	for _, task := range tasks {
		if task.Priority != PriorityHigh {
			t.Errorf("task %s priority = %s, want high (forced)", task.ID, task.Priority)
		}
		if task.ExecutionID != "exec-1" {
			t.Errorf("task %s execution id = %q", task.ID, task.ExecutionID)
		}
	}
	if len(comm.Dependencies) != 0 {
		t.Errorf("first task should have no dependencies, got %v", comm.Dependencies)
	}
	if !reflect.DeepEqual(sched.Dependencies, []string{comm.ID}) {
		t.Errorf("second task dependencies = %v, want [%s]", sched.Dependencies, comm.ID)
	}
	if comm.ID != "exec-1/w1/communication" {
		t.Errorf("task id = %q, want exec-1/w1/communication", comm.ID)
	}
}

func TestBuildPriorityFromRisk(t *testing.T) {
	tests := []struct {
		risk plan.RiskLevel
		want Priority
	}{
		{plan.RiskHigh, PriorityHigh},
		{plan.RiskLow, PriorityLow},
		{plan.RiskMedium, PriorityMedium},
		{plan.RiskCritical, PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			tasks, _ := NewBuilder(0).Build("", []plan.WorkItem{{ID: "x", Title: "Research competitors", Risk: tt.risk}})
			if len(tasks) != 1 || tasks[0].Role != RoleResearch {
				t.Fatalf("unexpected tasks: %+v", tasks)
			}
			if tasks[0].Priority != tt.want {
				t.Errorf("priority = %s, want %s", tasks[0].Priority, tt.want)
			}
		})
	}
}

// TestBuildCrossItemEdges checks that the first task of an item depends on
// the last task of each declared dependency.
func TestBuildCrossItemEdges(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "a", Title: "Research market and write report"}, // analysis, content, research
		{ID: "b", Title: "Announce results", Dependencies: []string{"a"}},
	}

	tasks, v := NewBuilder(1).Build("", items)
	if !v.Valid {
		t.Fatalf("expected valid graph, issues: %v", v.Issues)
	}

	var lastOfA string
	for _, task := range tasks {
		if task.WorkItemID == "a" {
			lastOfA = task.ID
		}
	}
	if lastOfA != "a/research" {
		t.Fatalf("last task of a = %q, want a/research (canonical order)", lastOfA)
	}

	var firstOfB AgentTask
	for _, task := range tasks {
		if task.WorkItemID == "b" {
			firstOfB = task
			break
		}
	}
	if !reflect.DeepEqual(firstOfB.Dependencies, []string{"a/research"}) {
		t.Errorf("first task of b dependencies = %v, want [a/research]", firstOfB.Dependencies)
	}
}

func TestBuildNoDanglingReferences(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "1", Title: "Draft newsletter and send it"},
		{ID: "2", Title: "Analyze campaign metrics", Dependencies: []string{"1"}},
		{ID: "3", Title: "Book meeting", Dependencies: []string{"1", "2"}},
		{ID: "4", Title: "Misc"},
	}

	tasks, v := NewBuilder(3).Build("run", items)
	if !v.Valid {
		t.Fatalf("expected valid graph, issues: %v", v.Issues)
	}

	ids := make(map[string]bool)
	for _, task := range tasks {
		ids[task.ID] = true
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if !ids[dep] {
				t.Errorf("task %s references missing task %s", task.ID, dep)
			}
		}
	}
}

func TestBuildUnknownDependencyIsDangling(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "a", Title: "Alpha", Dependencies: []string{"ghost"}},
	}

	_, v := NewBuilder(3).Build("", items)
	if v.Valid {
		t.Fatal("expected invalid graph for unknown dependency")
	}
	if len(v.Issues) != 1 || !strings.Contains(v.Issues[0], `"ghost"`) {
		t.Errorf("issues = %v, want a single dangling reference to ghost", v.Issues)
	}
}

func TestBuildDeclaredCycle(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "a", Title: "Alpha", Dependencies: []string{"c"}},
		{ID: "b", Title: "Beta", Dependencies: []string{"a"}},
		{ID: "c", Title: "Gamma", Dependencies: []string{"b"}},
	}

	_, v := NewBuilder(3).Build("", items)
	if v.Valid {
		t.Fatal("expected cycle to invalidate graph")
	}

	joined := strings.Join(v.Issues, "\n")
	for _, id := range []string{"a/coordination", "b/coordination", "c/coordination"} {
		if !strings.Contains(joined, id) {
			t.Errorf("cycle report %q does not name %s", joined, id)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	items := []plan.WorkItem{
		{ID: "x", Title: "Schedule calendar review and email the team", Description: "analyze the numbers"},
		{ID: "y", Title: "Launch", Dependencies: []string{"x"}},
	}

	first, _ := NewBuilder(3).Build("e", items)
	for i := 0; i < 20; i++ {
		again, _ := NewBuilder(3).Build("e", items)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("build %d differs from first build", i)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want []Role
	}{
		{"Alpha", []Role{RoleCoordination}},
		{"", []Role{RoleCoordination}},
		{"Send email and schedule meeting", []Role{RoleCommunication, RoleScheduling}},
		{"Write a blog post", []Role{RoleContent}},
		{"Launch campaign", []Role{RoleCommunication, RoleContent}},
		{"RESEARCH competitors", []Role{RoleResearch}},
		{"Coordinate handoff and analyze KPIs", []Role{RoleAnalysis, RoleCoordination}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Classify(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

// TestBuildCopiesResources checks tasks do not alias their work item's
// resource slice.
func TestBuildCopiesResources(t *testing.T) {
	items := []plan.WorkItem{{ID: "A", Title: "Alpha", Resources: []string{"repo"}}}

	tasks, v := NewBuilder(0).Build("e", items)
	if !v.Valid || len(tasks) != 1 {
		t.Fatalf("expected one valid task, got %d (issues %v)", len(tasks), v.Issues)
	}

	tasks[0].Resources[0] = "changed"
	if items[0].Resources[0] != "repo" {
		t.Errorf("work item resources = %v, want [repo]", items[0].Resources)
	}
}
