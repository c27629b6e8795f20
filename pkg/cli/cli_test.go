package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/taskplan/pkg/model"
)

// run executes the command tree against a config in dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeICSConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "backend: ics\nstore: sqlite\nlog_level: error\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestAddScheduleListSync(t *testing.T) {
	dir := writeICSConfig(t)
	due := time.Now().AddDate(0, 0, 3).Format(time.DateOnly)

	out, err := run(t, dir, "add", "Write", "report", "--estimate", "1h", "--due", due, "--priority", "high")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.HasPrefix(out, "Added task ") {
		t.Fatalf("Expected confirmation, got %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Added task "))

	out, err = run(t, dir, "schedule", id)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if !strings.Contains(out, "Scheduled "+id) {
		t.Errorf("Expected scheduled confirmation, got %q", out)
	}

	out, err = run(t, dir, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "Write report") || !strings.Contains(out, "yes") {
		t.Errorf("Expected linked task in listing, got %q", out)
	}

	out, err = run(t, dir, "sync")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !strings.Contains(out, "0 created, 1 updated") {
		t.Errorf("Expected the scheduled task to be updated only, got %q", out)
	}

	if _, err := os.Stat(filepath.Join(dir, "tasks.ics")); err != nil {
		t.Errorf("Expected the calendar file next to the config: %v", err)
	}

	if _, err := run(t, dir, "remove", id); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	out, err = run(t, dir, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if strings.Contains(out, "Write report") {
		t.Errorf("Expected the task to be gone, got %q", out)
	}
}

func TestScheduleWithoutEstimateHasNoSlot(t *testing.T) {
	dir := writeICSConfig(t)
	out, err := run(t, dir, "add", "Think")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Added task "))

	if _, err := run(t, dir, "schedule", id); err == nil {
		t.Fatal("Expected a no-slot error")
	}
}

func TestSetCalendar(t *testing.T) {
	dir := writeICSConfig(t)
	if _, err := run(t, dir, "set-calendar", "Focus"); err != nil {
		t.Fatalf("set-calendar failed: %v", err)
	}
	body, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "calendar: Focus") {
		t.Errorf("Expected calendar saved, got %s", body)
	}
	if !strings.Contains(string(body), "backend: ics") {
		t.Errorf("Expected other settings kept, got %s", body)
	}
}

func TestParseDue(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	cases := map[string]time.Time{
		"2025-06-02":           time.Date(2025, 6, 2, 0, 0, 0, 0, loc),
		"2025-06-02 15:04":     time.Date(2025, 6, 2, 15, 4, 0, 0, loc),
		"2025-06-02T15:04":     time.Date(2025, 6, 2, 15, 4, 0, 0, loc),
		"2025-06-02T15:04:00Z": time.Date(2025, 6, 2, 15, 4, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseDue(in, loc)
		if err != nil {
			t.Errorf("parseDue(%q) failed: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseDue(%q): expected %v, got %v", in, want, got)
		}
	}
	if _, err := parseDue("next week", loc); err == nil {
		t.Error("Expected an error for free text")
	}
}

func TestFindTask(t *testing.T) {
	tasks := []*model.Task{{ID: "abc123"}, {ID: "abd456"}, {ID: "abc"}}

	if got, err := findTask(tasks, "abd"); err != nil || got.ID != "abd456" {
		t.Errorf("Expected unique prefix match, got %v, %v", got, err)
	}
	if got, err := findTask(tasks, "abc"); err != nil || got.ID != "abc" {
		t.Errorf("Expected exact match to win, got %v, %v", got, err)
	}
	if _, err := findTask(tasks, "ab"); !errors.Is(err, errAmbiguous) {
		t.Errorf("Expected ambiguous error, got %v", err)
	}
	if _, err := findTask(tasks, "zzz"); err == nil {
		t.Error("Expected no match error")
	}
}
