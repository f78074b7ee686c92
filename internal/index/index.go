// Package index keeps a full-text index of description text. It is fed by
// the engine's index-sync hook and answers text searches with the matching
// description and concept ids.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/view"
)

// Document field names.
const (
	FieldText     = "text"
	FieldConcept  = "concept"
	FieldLanguage = "language"
	FieldType     = "type"
	FieldStatus   = "status"
)

var (
	// ErrIndexClosed is returned by operations on a closed index.
	ErrIndexClosed = errors.New("index is closed")
	// ErrUnbound is returned by Sync before Bind.
	ErrUnbound = errors.New("index has no source bound")
)

// Source is the read side of the engine the index needs.
type Source interface {
	Component(nid int) (engine.Component, bool)
	Components() []engine.Component
	Resolve(nid int, coord view.Coordinate) (engine.Result, error)
}

// Index is a bleve index of description components keyed by uuid.
type Index struct {
	mu     sync.RWMutex
	bleve  bleve.Index
	source Source
	coord  view.Coordinate
	logger *slog.Logger
	closed bool
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// Open opens the index at dir, creating it when missing. An empty dir
// keeps the index in memory. Descriptions are read under coord.
func Open(dir string, coord view.Coordinate, opts ...Option) (*Index, error) {
	if err := coord.Validate(); err != nil {
		return nil, fmt.Errorf("index coordinate: %w", err)
	}
	ix := &Index{coord: coord, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}

	var err error
	switch {
	case dir == "":
		ix.bleve, err = bleve.NewMemOnly(buildMapping())
	case exists(dir):
		ix.bleve, err = bleve.Open(dir)
	default:
		ix.bleve, err = bleve.New(dir, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index %q: %w", dir, err)
	}
	return ix, nil
}

func exists(dir string) bool {
	_, err := os.Stat(dir)
	return err == nil
}

// buildMapping analyzes text with the standard analyzer and keeps ids and
// codes as exact keywords.
func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Store = true
	text.IncludeTermVectors = true

	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(FieldText, text)
	doc.AddFieldMappingsAt(FieldConcept, keyword)
	doc.AddFieldMappingsAt(FieldLanguage, keyword)
	doc.AddFieldMappingsAt(FieldType, keyword)
	doc.AddFieldMappingsAt(FieldStatus, keyword)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Bind sets the source Sync reads from. The engine takes the index as a
// hook at construction, so binding happens afterwards.
func (ix *Index) Bind(src Source) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.source = src
}

// Name implements engine.IndexHook.
func (ix *Index) Name() string { return "bleve" }

// Sync reindexes the description components among nids. Descriptions with
// no visible version are removed; other kinds are ignored.
//
// Sync implements engine.IndexHook.
func (ix *Index) Sync(ctx context.Context, nids []int) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return ErrIndexClosed
	}
	if ix.source == nil {
		return ErrUnbound
	}

	batch := ix.bleve.NewBatch()
	for _, nid := range nids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c, ok := ix.source.Component(nid)
		if !ok || c.Kind != component.KindDescription {
			continue
		}
		doc, ok, err := ix.document(nid)
		if err != nil {
			return fmt.Errorf("index %s: %w", c.UUID, err)
		}
		if !ok {
			batch.Delete(c.UUID.String())
			continue
		}
		if err := batch.Index(c.UUID.String(), doc); err != nil {
			return fmt.Errorf("index %s: %w", c.UUID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := ix.bleve.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	ix.logger.Debug("index synced", "components", nids, "operations", batch.Size())
	return nil
}

// document resolves nid and builds its index document. A contradiction
// set indexes its first version.
func (ix *Index) document(nid int) (map[string]any, bool, error) {
	res, err := ix.source.Resolve(nid, ix.coord)
	if err != nil {
		return nil, false, err
	}
	if res.IsAbsent() {
		return nil, false, nil
	}
	v := res.Versions[0]
	d, err := component.AsDescription(v.Fields)
	if err != nil {
		return nil, false, err
	}
	doc := map[string]any{
		FieldText:    norm.NFC.String(d.Text),
		FieldConcept: d.Concept.String(),
		FieldStatus:  v.Tuple.Status.String(),
	}
	if d.Language != "" {
		doc[FieldLanguage] = d.Language
	}
	if d.Type != "" {
		doc[FieldType] = d.Type
	}
	return doc, true, nil
}

// Reindex syncs every description the source knows.
func (ix *Index) Reindex(ctx context.Context) error {
	ix.mu.RLock()
	src := ix.source
	ix.mu.RUnlock()
	if src == nil {
		return ErrUnbound
	}

	var nids []int
	for _, c := range src.Components() {
		if c.Kind == component.KindDescription {
			nids = append(nids, c.Nid)
		}
	}
	return ix.Sync(ctx, nids)
}

// Hit is one search match.
type Hit struct {
	UUID    uuid.UUID `json:"uuid"`
	Concept uuid.UUID `json:"concept"`
	Text    string    `json:"text"`
	Status  string    `json:"status"`
	Score   float64   `json:"score"`
}

// Query selects descriptions by text.
type Query struct {
	Text string
	// ActiveOnly drops descriptions whose visible version is inactive.
	ActiveOnly bool
	Language   string
	// Limit caps the hits. Zero means 10.
	Limit int
}

// Search returns descriptions matching q, best first.
func (ix *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, ErrIndexClosed
	}

	match := bleve.NewMatchQuery(norm.NFC.String(q.Text))
	match.SetField(FieldText)
	query := bleve.NewBooleanQuery()
	query.AddMust(match)
	if q.ActiveOnly {
		status := bleve.NewTermQuery("active")
		status.SetField(FieldStatus)
		query.AddMust(status)
	}
	if q.Language != "" {
		lang := bleve.NewTermQuery(q.Language)
		lang.SetField(FieldLanguage)
		query.AddMust(lang)
	}

	req := bleve.NewSearchRequest(query)
	req.Size = q.Limit
	if req.Size <= 0 {
		req.Size = 10
	}
	req.Fields = []string{FieldText, FieldConcept, FieldStatus}

	res, err := ix.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Text, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, m := range res.Hits {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			ix.logger.Warn("index holds a non-uuid document", "id", m.ID)
			continue
		}
		h := Hit{UUID: id, Score: m.Score}
		h.Text, _ = m.Fields[FieldText].(string)
		h.Status, _ = m.Fields[FieldStatus].(string)
		if s, ok := m.Fields[FieldConcept].(string); ok {
			h.Concept, _ = uuid.Parse(s)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Count returns the number of indexed descriptions.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return 0, ErrIndexClosed
	}
	return ix.bleve.DocCount()
}

// Close closes the index. Closing twice is a no-op.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.bleve.Close()
}
