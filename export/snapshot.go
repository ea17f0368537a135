package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-vocal/contour"
	"github.com/RyanBlaney/sonido-vocal/notes"
	"github.com/RyanBlaney/sonido-vocal/rhythm"
)

// Snapshot is the intermediate state of one analysis run.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	Reference    []contour.PitchFrame    `json:"reference"`
	UserObserved []contour.PitchFrame    `json:"userObserved"`
	UserImputed  []contour.PitchFrame    `json:"userImputed,omitempty"`
	Kinds        []rhythm.ImputationKind `json:"kinds,omitempty"`

	OffsetMs float64                      `json:"offsetMs"`
	Options  notes.SegmentationOptions    `json:"options"`
	Debug    notes.SegmentationDebugScore `json:"debug"`
	Notes    []notes.NoteEvent            `json:"notes"`
}

// SnapshotWriter stores snapshots as <dir>/<id>.json. Writes are meant to be
// fired from a goroutine; Wait blocks until outstanding writes finish.
type SnapshotWriter struct {
	dir string
	wg  sync.WaitGroup
	now func() time.Time
}

// NewSnapshotWriter returns a writer rooted at dir. The directory is created
// on first write.
func NewSnapshotWriter(dir string) *SnapshotWriter {
	return &SnapshotWriter{dir: dir, now: time.Now}
}

// Dir returns the output directory.
func (w *SnapshotWriter) Dir() string {
	return w.dir
}

// Write assigns an ID when missing and writes the snapshot synchronously,
// returning the file path.
func (w *SnapshotWriter) Write(s *Snapshot) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = w.now().UTC()
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := filepath.Join(w.dir, s.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return path, nil
}

// Go writes the snapshot in the background. done, when non-nil, receives the
// outcome on the writer goroutine.
func (w *SnapshotWriter) Go(s *Snapshot, done func(path string, err error)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		path, err := w.Write(s)
		if done != nil {
			done(path, err)
		}
	}()
}

// Wait blocks until every write started with Go has returned.
func (w *SnapshotWriter) Wait() {
	w.wg.Wait()
}

// ReadSnapshot loads a snapshot written by SnapshotWriter.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &s, nil
}
