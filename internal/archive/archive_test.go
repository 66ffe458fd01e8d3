package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/pipeline"
)

func testArchive(t *testing.T, indexed bool) *Archive {
	t.Helper()
	storage := config.StorageConfig{OutputDir: t.TempDir()}
	var cfg config.ArchiveConfig
	if indexed {
		cfg.IndexPath = filepath.Join(t.TempDir(), "newsletters.bleve")
	}
	a, err := New(storage, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func publishedState(id, title, body string) *pipeline.RunState {
	return &pipeline.RunState{
		ID:        id,
		Trigger:   "manual",
		Status:    pipeline.StatusValidated,
		StartedAt: time.Now(),
		Draft: &pipeline.Draft{
			Title:       title,
			Sections:    []pipeline.Section{{Heading: title, Body: body}},
			RawMarkdown: "# " + title + "\n\n## " + title + "\n\n" + body + "\n",
		},
	}
}

func TestSaveNewsletterWritesExactMarkdown(t *testing.T) {
	a := testArchive(t, false)
	state := publishedState("run-1", "AI Nexus Herald", "Sparse models keep improving.")

	path, err := a.SaveNewsletter(state)
	if err != nil {
		t.Fatalf("SaveNewsletter: %v", err)
	}
	name := filepath.Base(path)
	if ok, _ := regexp.MatchString(`^newsletter_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.md$`, name); !ok {
		t.Errorf("unexpected artifact name %q", name)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(got) != state.Draft.RawMarkdown {
		t.Errorf("artifact content differs from draft markdown:\n%s", got)
	}
}

func TestSaveNewsletterRequiresDraft(t *testing.T) {
	a := testArchive(t, false)
	if _, err := a.SaveNewsletter(&pipeline.RunState{ID: "run-1"}); err == nil {
		t.Fatal("expected error for missing draft")
	}
}

func TestSaveRunRecordRoundTrip(t *testing.T) {
	a := testArchive(t, false)
	state := publishedState("run-7", "Weekly Digest", "Agents shipped widely.")
	state.DroppedTopics = []string{"Benchmark Churn"}

	path, err := a.SaveRunRecord(state)
	if err != nil {
		t.Fatalf("SaveRunRecord: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "datasets" {
		t.Errorf("run record outside datasets dir: %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var got pipeline.RunState
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if got.ID != "run-7" || got.Status != pipeline.StatusValidated {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if len(got.DroppedTopics) != 1 || got.DroppedTopics[0] != "Benchmark Churn" {
		t.Errorf("dropped topics = %v", got.DroppedTopics)
	}
}

func TestSearchFindsIndexedNewsletter(t *testing.T) {
	a := testArchive(t, true)
	if _, err := a.SaveNewsletter(publishedState("run-a", "Quantum Advances", "Error corrected qubits reached a new record.")); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if _, err := a.SaveNewsletter(publishedState("run-b", "Agents Weekly", "Deployment of coding agents accelerated.")); err != nil {
		t.Fatalf("save second: %v", err)
	}

	hits, err := a.Search("qubits", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].RunID != "run-a" || hits[0].Title != "Quantum Advances" {
		t.Errorf("unexpected top hit: %+v", hits[0])
	}
	if hits[0].Rank != 1 || hits[0].Score <= 0 {
		t.Errorf("hit metadata not populated: %+v", hits[0])
	}

	none, err := a.Search("zeppelin", 5)
	if err != nil {
		t.Fatalf("Search miss: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no hits, got %+v", none)
	}
}

func TestSearchDisabledWithoutIndex(t *testing.T) {
	a := testArchive(t, false)
	if _, err := a.Search("anything", 5); err != ErrSearchDisabled {
		t.Fatalf("expected ErrSearchDisabled, got %v", err)
	}
}
