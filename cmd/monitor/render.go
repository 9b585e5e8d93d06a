package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
	"flame_academy/internal/router"
)

// mergePlans lists active plans first, then completed ones newest first.
func mergePlans(list planList) []orchestrator.Status {
	out := make([]orchestrator.Status, 0, len(list.Active)+len(list.Completed))
	out = append(out, list.Active...)
	for i := len(list.Completed) - 1; i >= 0; i-- {
		out = append(out, list.Completed[i])
	}
	return out
}

func renderPlansTable(table *tview.Table, plans []orchestrator.Status, selectedPlanID string) {
	table.Clear()
	for i, h := range []string{"ID", "State", "Mode", "Progress", "Name"} {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, st := range plans {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(st.Plan.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(st.State)).SetTextColor(stateColor(st)))
		table.SetCell(row, 2, tview.NewTableCell(string(st.Plan.Mode)))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%3.0f%%", st.Progress.Percentage)))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(st.Plan.Name, 48)))
		if st.Plan.ID == selectedPlanID {
			table.Select(row, 0)
		}
	}
}

func stateColor(st orchestrator.Status) tcell.Color {
	switch {
	case st.State == domain.PlanStateActive:
		return tcell.ColorYellow
	case st.Progress.Failed > 0 || !st.Progress.IsComplete:
		return tcell.ColorRed
	}
	return tcell.ColorGreen
}

func renderTasks(snap plan.Snapshot) string {
	if len(snap.Tasks) == 0 {
		return "No tasks."
	}
	var b strings.Builder
	for _, t := range snap.Tasks {
		fmt.Fprintf(&b, "[%s]%-11s[-] %-14s %s\n", statusTag(t.Status), t.Status, t.AgentID, trimLine(t.Description, 60))
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&b, "            after %s\n", strings.Join(t.Dependencies, ", "))
		}
		if t.Error != "" {
			fmt.Fprintf(&b, "            [red]%s[-]\n", tview.Escape(t.Error))
		}
	}
	return b.String()
}

func statusTag(s domain.TaskStatus) string {
	switch s {
	case domain.TaskStatusCompleted:
		return "green"
	case domain.TaskStatusFailed:
		return "red"
	case domain.TaskStatusInProgress:
		return "yellow"
	case domain.TaskStatusSkipped:
		return "gray"
	}
	return "white"
}

func renderDecisions(items []domain.DecisionLog) string {
	if len(items) == 0 {
		return "No decisions."
	}
	var b strings.Builder
	for _, d := range items {
		fmt.Fprintf(&b, "%s [aqua]%s[-] %s", d.CreatedAt.Format("15:04:05"), d.Actor, d.Action)
		if d.Reason != "" {
			fmt.Fprintf(&b, ": %s", tview.Escape(trimLine(d.Reason, 80)))
		}
		if summary := decisionPayloadSummary(d.Payload); summary != "" {
			fmt.Fprintf(&b, " (%s)", tview.Escape(trimLine(summary, 80)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderRoutingStats(st router.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "routings: %d  agents: %d  avg confidence: %.2f\n",
		st.TotalRoutings, st.RegisteredAgents, st.AverageConfidence)
	agents := make([]string, 0, len(st.ByAgent))
	for id := range st.ByAgent {
		agents = append(agents, id)
	}
	sort.Strings(agents)
	for _, id := range agents {
		fmt.Fprintf(&b, "  %-16s %d\n", id, st.ByAgent[id])
	}
	return b.String()
}

func decisionPayloadSummary(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}
	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err != nil {
		return trimmed
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch kv[k].(type) {
		case map[string]any, []any:
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
	}
	return strings.Join(parts, ", ")
}

func trimLine(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

// shortID drops the id prefix and keeps the tail, where ULIDs differ.
func shortID(v string) string {
	if len(v) <= 12 {
		return v
	}
	return "…" + v[len(v)-11:]
}
