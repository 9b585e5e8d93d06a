package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
)

func printDecision(w io.Writer, d domain.RoutingDecision) {
	agent := color.GreenString(d.SelectedAgentID)
	if d.Sentinel() {
		agent = color.RedString(d.SelectedAgentID)
	}
	fmt.Fprintf(w, "%s %s (confidence %.2f)\n", color.CyanString("Selected:"), agent, d.Confidence)
	fmt.Fprintf(w, "  %s\n", d.Reasoning)
	if len(d.Alternatives) > 0 {
		fmt.Fprintf(w, "  alternatives: %s\n", strings.Join(d.Alternatives, ", "))
	}
}

func printResponse(w io.Writer, resp domain.Response) {
	fmt.Fprintf(w, "\n%s [%s]\n", color.CyanString(resp.AgentID), resp.Type)
	fmt.Fprintln(w, resp.Content)
	if resp.RequiresInput && resp.InputPrompt != "" {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("?"), resp.InputPrompt)
	}
	for _, s := range resp.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}

func printPlanHeader(w io.Writer, snap plan.Snapshot) {
	fmt.Fprintf(w, "%s %s (%s, %d tasks)\n", color.CyanString("Plan"), snap.Name, snap.Mode, len(snap.Tasks))
	for _, t := range snap.Tasks {
		deps := ""
		if len(t.Dependencies) > 0 {
			deps = " after " + strings.Join(t.Dependencies, ", ")
		}
		fmt.Fprintf(w, "  %-40s %-14s %s%s\n", t.Description, t.AgentID, t.TaskType, deps)
	}
	fmt.Fprintln(w)
}

func printEvent(w io.Writer, ev domain.TaskEvent) {
	var marker string
	switch ev.To {
	case domain.TaskStatusInProgress:
		marker = color.YellowString("…")
	case domain.TaskStatusCompleted:
		marker = color.GreenString("✓")
	case domain.TaskStatusFailed:
		marker = color.RedString("✗")
	default:
		marker = string(ev.To)
	}
	line := fmt.Sprintf("[%s] %s %s", marker, ev.TaskID, ev.AgentID)
	if ev.Error != "" {
		line += ": " + color.RedString(ev.Error)
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, s orchestrator.Summary) {
	pr := s.Progress
	fmt.Fprintf(w, "\n%d/%d completed, %d failed, %d skipped (%.0f%%)\n",
		pr.Completed, pr.Total, pr.Failed, pr.Skipped, pr.Percentage)
	if s.Stalled {
		printWarning(w, fmt.Sprintf("plan stalled with %d tasks unreachable", pr.Pending))
	}
}

func printAgents(w io.Writer, descs []domain.AgentDescriptor) {
	for _, d := range descs {
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps = append(caps, string(c))
		}
		fmt.Fprintf(w, "%s %s (%s, ages %d-%d)\n", color.GreenString(d.ID), d.Name, d.Subject, d.MinAge, d.MaxAge)
		fmt.Fprintf(w, "  %s\n", strings.Join(caps, ", "))
	}
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", color.YellowString("!"), msg)
}

func printInfo(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", color.CyanString("→"), msg)
}
