package workflow

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, "testproj")
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if err := s.Declare("auth", "add login flow", "tester"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}
	if err := s.Transition("auth", "define", PhaseInProgress, "tester"); err != nil {
		t.Fatalf("Transition(): %v", err)
	}

	doc, warnings, err := s.Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings on a current-schema document: %v", warnings)
	}
	f := doc.Features["auth"]
	if f == nil {
		t.Fatal("feature missing after round trip")
	}
	if f.Prompt != "add login flow" {
		t.Errorf("Prompt = %q", f.Prompt)
	}
	p, _ := f.PhaseByName("define")
	if p.Status != PhaseInProgress {
		t.Errorf("define status = %s, want in-progress", p.Status)
	}
	if f.Status != FeatureDefining {
		t.Errorf("feature status = %s, want defining", f.Status)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := openStore(t, t.TempDir())
	doc, warnings, err := s.Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if len(doc.Features) != 0 || len(warnings) != 0 {
		t.Errorf("empty store Load() = %+v, %v", doc, warnings)
	}
	if doc.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", doc.Version, SchemaVersion)
	}
}

// TestStoreBackupBeforeOverwrite: every save of an existing file first copies
// it into backups/, byte for byte.
func TestStoreBackupBeforeOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if err := s.Declare("one", "", "t"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}
	before, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}

	if err := s.Declare("two", "", "t"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}

	backups, _ := filepath.Glob(filepath.Join(dir, "backups", "state_*.json"))
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want exactly one", backups)
	}
	got, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(got) != string(before) {
		t.Error("backup does not match the pre-save document")
	}
}

func TestStoreBackupRotation(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if err := s.Declare("feat", "", "t"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}
	// Each transition saves once; drive well past the retention limit.
	cycle := []PhaseStatus{PhaseInProgress, PhaseBlocked}
	for i := 0; i < 7; i++ {
		for _, to := range cycle {
			if err := s.Transition("feat", "define", to, "t"); err != nil {
				t.Fatalf("Transition() %d/%s: %v", i, to, err)
			}
		}
	}

	backups, _ := filepath.Glob(filepath.Join(dir, "backups", "state_*.json"))
	if len(backups) != maxBackups {
		t.Errorf("backups retained = %d, want %d", len(backups), maxBackups)
	}
}

// TestStoreInvalidTransitionLeavesDiskUntouched: a rejected transition writes
// nothing, not even a backup.
func TestStoreInvalidTransitionLeavesDiskUntouched(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if err := s.Declare("feat", "", "t"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}
	before, _ := os.ReadFile(filepath.Join(dir, "state.json"))

	err := s.Transition("feat", "define", PhaseComplete, "t")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition() = %v, want ErrInvalidTransition", err)
	}

	after, _ := os.ReadFile(filepath.Join(dir, "state.json"))
	if string(before) != string(after) {
		t.Error("state file changed after a rejected transition")
	}
	if backups, _ := filepath.Glob(filepath.Join(dir, "backups", "state_*.json")); len(backups) != 0 {
		t.Errorf("rejected transition produced backups: %v", backups)
	}
}

func TestStoreChangeLog(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if err := s.Declare("feat", "", "alice"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}
	if err := s.Transition("feat", "define", PhaseInProgress, "bob"); err != nil {
		t.Fatalf("Transition(): %v", err)
	}
	if err := s.Archive("feat", "carol"); err != nil {
		t.Fatalf("Archive(): %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "changelog.jsonl"))
	if err != nil {
		t.Fatalf("reading change log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("change log has %d lines, want 3", len(lines))
	}

	var entries []ChangeEntry
	for i, line := range lines {
		var e ChangeEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if e.ID == "" || e.Timestamp.IsZero() || e.Feature != "feat" {
			t.Errorf("line %d incomplete: %+v", i, e)
		}
		entries = append(entries, e)
	}
	if entries[0].Actor != "alice" || entries[0].To != string(FeatureDefining) {
		t.Errorf("declare entry = %+v", entries[0])
	}
	if entries[1].Phase != "define" || entries[1].From != string(PhaseNotStarted) || entries[1].To != string(PhaseInProgress) {
		t.Errorf("transition entry = %+v", entries[1])
	}
	if entries[2].To != "archived" || entries[2].Actor != "carol" {
		t.Errorf("archive entry = %+v", entries[2])
	}
}

func TestStoreLockExcludesSecondWriter(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if _, err := Open(dir, "testproj"); err == nil {
		t.Fatal("second Open() on a locked directory should fail")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	s2, err := Open(dir, "testproj")
	if err != nil {
		t.Fatalf("Open() after Close(): %v", err)
	}
	s2.Close()
}

func TestStoreAttachOutput(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	if err := s.Declare("feat", "", "t"); err != nil {
		t.Fatalf("Declare(): %v", err)
	}
	if err := s.AttachOutput("feat", "implement", "diff applied"); err != nil {
		t.Fatalf("AttachOutput(): %v", err)
	}

	doc, _, err := s.Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	p, _ := doc.Features["feat"].PhaseByName("implement")
	if len(p.Outputs) != 1 || p.Outputs[0] != "diff applied" {
		t.Errorf("Outputs = %v", p.Outputs)
	}
}
