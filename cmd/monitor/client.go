package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flame_academy/internal/domain"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/router"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(addr string) *client {
	return &client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type planList struct {
	Active    []orchestrator.Status `json:"active"`
	Completed []orchestrator.Status `json:"completed"`
}

func (c *client) listPlans() (planList, error) {
	var out planList
	err := c.getJSON("/plans", &out)
	return out, err
}

func (c *client) planDecisions(planID string, limit int) ([]domain.DecisionLog, error) {
	var out []domain.DecisionLog
	if err := c.getJSON(fmt.Sprintf("/plans/%s/decisions?limit=%d", planID, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) routingStats() (router.Stats, error) {
	var out router.Stats
	err := c.getJSON("/routing/stats", &out)
	return out, err
}

// launch turns a prompt into a plan and runs it. "theme: space" starts a
// cross-subject session; anything else is a comma separated topic list.
func (c *client) launch(prompt string, learner domain.LearnerContext) (orchestrator.Summary, error) {
	req := map[string]any{"learner": learner}
	if theme, ok := strings.CutPrefix(prompt, "theme:"); ok {
		req["theme"] = strings.TrimSpace(theme)
	} else {
		req["name"] = "Monitor Journey"
		req["topics"] = splitTopics(prompt)
	}

	var created orchestrator.Status
	if err := c.postJSON("/plans", req, &created); err != nil {
		return orchestrator.Summary{}, err
	}
	var summary orchestrator.Summary
	err := c.postJSON(fmt.Sprintf("/plans/%s/execute", created.Plan.ID), map[string]any{"learner": learner}, &summary)
	return summary, err
}

func (c *client) waitHealth(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := c.http.Get(c.baseURL + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func (c *client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func splitTopics(prompt string) []string {
	var out []string
	for _, part := range strings.Split(prompt, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
