package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/psantana5/procbox/pkg/task"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return string(body)
}

func TestCollectorExposesMetrics(t *testing.T) {
	c := NewCollector()

	c.TaskStarted(0.5)
	c.TaskCrashed()
	c.StopEscalated()
	c.TaskStopped(1.2)
	c.ObserveStatuses([]task.Info{
		{ID: "a", Status: task.StatusRunning},
		{ID: "b", Status: task.StatusRunning},
		{ID: "c", Status: task.StatusFailed},
	})

	body := scrape(t, c)

	for _, want := range []string{
		"procbox_task_starts_total 1",
		"procbox_task_crashes_total 1",
		"procbox_stop_escalations_total 1",
		`procbox_tasks{status="running"} 2`,
		`procbox_tasks{status="failed"} 1`,
		`procbox_tasks{status="stopped"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Metrics output missing %q", want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	// Hooks must be callable when metrics are disabled.
	c.TaskStarted(0.1)
	c.TaskCrashed()
	c.StopEscalated()
	c.TaskStopped(0.1)
	c.ObserveStatuses(nil)
}
