package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current on-disk document version.
const SchemaVersion = 2

const maxBackups = 10

// Document is the per-project workflow state: one JSON file per project.
type Document struct {
	Version  int                 `json:"version"`
	Project  string              `json:"project"`
	Features map[string]*Feature `json:"features"`
}

// ChangeEntry is one append-only change-log line.
type ChangeEntry struct {
	ID        string    `json:"id"`
	Feature   string    `json:"feature"`
	Phase     string    `json:"phase,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists one project's workflow document with backups, a change
// log, and a lock file enforcing a single writer. The original design left
// concurrent writers unguarded; the lock closes that gap.
type Store struct {
	mu        sync.Mutex
	dir       string
	statePath string
	backupDir string
	logPath   string
	lockPath  string
	project   string
}

// Open prepares a store rooted at dir and acquires its lock file. A second
// Open against the same directory fails until the first store is closed.
func Open(dir, project string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	s := &Store{
		dir:       dir,
		statePath: filepath.Join(dir, "state.json"),
		backupDir: filepath.Join(dir, "backups"),
		logPath:   filepath.Join(dir, "changelog.jsonl"),
		lockPath:  filepath.Join(dir, "state.lock"),
		project:   project,
	}

	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("project state at %s is locked by another writer", dir)
		}
		return nil, fmt.Errorf("acquiring state lock: %w", err)
	}
	fmt.Fprintf(lock, "%d\n", os.Getpid())
	lock.Close()
	return s, nil
}

// Close releases the lock file.
func (s *Store) Close() error {
	return os.Remove(s.lockPath)
}

// Load reads the document, migrating legacy shapes in memory. Warnings
// describe anything that could not be unambiguously mapped; the data itself
// is never silently coerced without one.
func (s *Store) Load() (*Document, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Document, []string, error) {
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return &Document{Version: SchemaVersion, Project: s.project, Features: map[string]*Feature{}}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading state: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing state: %w", err)
	}
	return migrate(raw, s.project)
}

// Save writes the document: timestamped backup of the previous file first,
// then the new document. A partial write leaves the backup recoverable.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *Store) save(doc *Document) error {
	doc.Version = SchemaVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	if _, err := os.Stat(s.statePath); err == nil {
		if err := s.backup(); err != nil {
			return err
		}
	}
	if err := os.WriteFile(s.statePath, data, 0644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// Transition applies one validated phase transition and persists it:
// load -> mutate -> backup -> save -> change-log append. An illegal
// transition leaves the stored document untouched.
func (s *Store) Transition(featureID, phase string, to PhaseStatus, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load()
	if err != nil {
		return err
	}
	f, ok := doc.Features[featureID]
	if !ok {
		return fmt.Errorf("unknown feature %q", featureID)
	}
	p, ok := f.PhaseByName(phase)
	if !ok {
		return fmt.Errorf("feature %q has no phase %q", featureID, phase)
	}
	from := p.Status

	if err := f.TransitionPhase(phase, to); err != nil {
		return err
	}
	if err := s.save(doc); err != nil {
		return err
	}
	return s.appendChange(ChangeEntry{
		Feature: featureID,
		Phase:   phase,
		From:    string(from),
		To:      string(to),
		Actor:   actor,
	})
}

// AttachOutput appends a task output to a phase and persists the document.
func (s *Store) AttachOutput(featureID, phase, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load()
	if err != nil {
		return err
	}
	f, ok := doc.Features[featureID]
	if !ok {
		return fmt.Errorf("unknown feature %q", featureID)
	}
	p, ok := f.PhaseByName(phase)
	if !ok {
		return fmt.Errorf("feature %q has no phase %q", featureID, phase)
	}
	p.Outputs = append(p.Outputs, output)
	f.UpdatedAt = time.Now().UTC()
	return s.save(doc)
}

// Declare adds a new feature to the document. Fails if the ID exists.
func (s *Store) Declare(featureID, prompt, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := doc.Features[featureID]; exists {
		return fmt.Errorf("feature %q already declared", featureID)
	}
	doc.Features[featureID] = NewFeature(featureID, prompt)
	if err := s.save(doc); err != nil {
		return err
	}
	return s.appendChange(ChangeEntry{
		Feature: featureID,
		From:    "",
		To:      string(FeatureDefining),
		Actor:   actor,
	})
}

// Archive removes a feature from the live document. This is the only way a
// feature leaves the store, and it is always change-logged.
func (s *Store) Archive(featureID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load()
	if err != nil {
		return err
	}
	f, ok := doc.Features[featureID]
	if !ok {
		return fmt.Errorf("unknown feature %q", featureID)
	}
	delete(doc.Features, featureID)
	if err := s.save(doc); err != nil {
		return err
	}
	return s.appendChange(ChangeEntry{
		Feature: featureID,
		From:    string(f.Status),
		To:      "archived",
		Actor:   actor,
	})
}

// backup copies the current state file into backups/ with a UTC timestamp
// name and rotates old copies.
func (s *Store) backup() error {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return fmt.Errorf("reading state for backup: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102T150405.000000000Z")
	path := filepath.Join(s.backupDir, "state_"+stamp+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	s.rotateBackups()
	return nil
}

func (s *Store) rotateBackups() {
	entries, err := filepath.Glob(filepath.Join(s.backupDir, "state_*.json"))
	if err != nil || len(entries) <= maxBackups {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))
	for _, stale := range entries[maxBackups:] {
		os.Remove(stale)
	}
}

// appendChange writes one JSON line to the append-only change log.
func (s *Store) appendChange(e ChangeEntry) error {
	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling change entry: %w", err)
	}

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening change log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending change entry: %w", err)
	}
	return nil
}
