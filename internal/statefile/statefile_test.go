package statefile

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func open(t *testing.T) (*File, string) {
	t.Helper()
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "data", "system_state.json"), filepath.Join(dir, "logs", "admin_actions.log"))
	if err != nil {
		t.Fatal(err)
	}
	return f, dir
}

func TestStateSurvivesReopen(t *testing.T) {
	f, dir := open(t)

	if err := f.SetMaintenance(true, "نعود قريباً"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.BumpForceSubEpoch(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.BumpForceSubEpoch(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(filepath.Join(dir, "data", "system_state.json"), filepath.Join(dir, "logs", "admin_actions.log"))
	if err != nil {
		t.Fatal(err)
	}
	on, msg := reopened.Maintenance()
	if !on || msg != "نعود قريباً" {
		t.Fatalf("maintenance = %v %q", on, msg)
	}
	if reopened.ForceSubEpoch() != 2 {
		t.Fatalf("epoch = %d, want 2", reopened.ForceSubEpoch())
	}
}

func TestOpenCreatesMissingFile(t *testing.T) {
	f, dir := open(t)

	if on, _ := f.Maintenance(); on {
		t.Fatal("fresh state has maintenance on")
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "system_state.json")); err != nil {
		t.Fatalf("state file not created: %v", err)
	}
}

func TestNoTempFileLeftBehind(t *testing.T) {
	f, dir := open(t)
	if err := f.SetMaintenance(true, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "system_state.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file survived the rename: %v", err)
	}
}

func TestActionLogAppendsJSONL(t *testing.T) {
	f, dir := open(t)
	f.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := f.LogAction(99, "ban", "spam"); err != nil {
		t.Fatal(err)
	}
	if err := f.LogAction(99, "maintenance_on", ""); err != nil {
		t.Fatal(err)
	}

	fh, err := os.Open(filepath.Join(dir, "logs", "admin_actions.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	var actions []AdminAction
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var a AdminAction
		if err := json.Unmarshal(sc.Bytes(), &a); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		actions = append(actions, a)
	}
	if len(actions) != 2 {
		t.Fatalf("want 2 lines, got %d", len(actions))
	}
	if actions[0].AdminID != 99 || actions[0].Action != "ban" || actions[0].Reason != "spam" {
		t.Fatalf("first action = %+v", actions[0])
	}
	if !actions[0].TS.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("ts = %v", actions[0].TS)
	}
}
