package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/pipeline"
)

// ErrSearchDisabled is returned by Search when no index path is configured.
var ErrSearchDisabled = errors.New("search index not configured")

// Archive writes newsletter artifacts and per-run dataset dumps under the
// output directory, and maintains an optional full-text index over published
// newsletters.
type Archive struct {
	dir   string
	index bleve.Index
	log   *log.Logger
}

// Document is the indexed shape of one published newsletter.
type Document struct {
	RunID string `json:"run_id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Path  string `json:"path"`
	Date  string `json:"date"`
}

// Hit is one search result.
type Hit struct {
	RunID string  `json:"run_id"`
	Title string  `json:"title"`
	Path  string  `json:"path"`
	Date  string  `json:"date"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// New opens the archive rooted at storage.OutputDir. A non-empty
// archive.IndexPath enables the bleve index, created on first use.
func New(storage config.StorageConfig, archiveCfg config.ArchiveConfig) (*Archive, error) {
	dir := storage.OutputDir
	if dir == "" {
		dir = "outputs"
	}
	a := &Archive{
		dir: dir,
		log: log.New(log.Writer(), "[ARCHIVE] ", log.LstdFlags),
	}
	if archiveCfg.IndexPath != "" {
		idx, err := bleve.Open(archiveCfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(archiveCfg.IndexPath, bleve.NewIndexMapping())
		}
		if err != nil {
			return nil, fmt.Errorf("open search index: %w", err)
		}
		a.index = idx
	}
	return a, nil
}

// Close releases the search index, if any.
func (a *Archive) Close() error {
	if a.index == nil {
		return nil
	}
	return a.index.Close()
}

// SaveNewsletter writes the validated draft to
// <dir>/newsletters/newsletter_<timestamp>.md. The file content is exactly
// the draft's raw markdown. The newsletter is also indexed for search when
// an index is configured; index failures do not fail the save.
func (a *Archive) SaveNewsletter(state *pipeline.RunState) (string, error) {
	if state == nil || state.Draft == nil {
		return "", errors.New("no draft to save")
	}
	dir := filepath.Join(a.dir, "newsletters")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create newsletters dir: %w", err)
	}
	now := time.Now()
	path := filepath.Join(dir, "newsletter_"+now.Format("2006-01-02_15-04-05")+".md")
	if err := os.WriteFile(path, []byte(state.Draft.RawMarkdown), 0o644); err != nil {
		return "", fmt.Errorf("write newsletter: %w", err)
	}

	if a.index != nil {
		doc := Document{
			RunID: state.ID,
			Title: state.Draft.Title,
			Body:  sectionText(state.Draft),
			Path:  path,
			Date:  now.Format(time.RFC3339),
		}
		if err := a.index.Index(state.ID, doc); err != nil {
			a.log.Printf("index newsletter %s: %v", state.ID, err)
		}
	}
	return path, nil
}

// SaveRunRecord dumps the full run state to
// <dir>/datasets/run_<timestamp>.json for later inspection and evaluation.
func (a *Archive) SaveRunRecord(state *pipeline.RunState) (string, error) {
	if state == nil {
		return "", errors.New("no run state to save")
	}
	dir := filepath.Join(a.dir, "datasets")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create datasets dir: %w", err)
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run state: %w", err)
	}
	path := filepath.Join(dir, "run_"+time.Now().Format("2006-01-02_15-04-05")+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write run record: %w", err)
	}
	return path, nil
}

// Search runs a query-string search over indexed newsletters and returns up
// to k hits, best first.
func (a *Archive) Search(query string, k int) ([]Hit, error) {
	if a.index == nil {
		return nil, ErrSearchDisabled
	}
	if k <= 0 {
		k = 10
	}
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"title", "path", "date"}
	res, err := a.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		h := Hit{RunID: hit.ID, Score: hit.Score, Rank: i + 1}
		if v, ok := hit.Fields["title"].(string); ok {
			h.Title = v
		}
		if v, ok := hit.Fields["path"].(string); ok {
			h.Path = v
		}
		if v, ok := hit.Fields["date"].(string); ok {
			h.Date = v
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func sectionText(d *pipeline.Draft) string {
	var b strings.Builder
	for _, s := range d.Sections {
		b.WriteString(s.Heading)
		b.WriteString("\n")
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	return b.String()
}
