package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"searchsync/internal/domain"
	"searchsync/internal/hashroute"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/rs/zerolog"
)

const (
	FieldTitle    = "title"
	FieldContents = "contents"

	docKeyPrefix  = "searchsync/doc/"
	tombKeyPrefix = "searchsync/tomb/"
)

// Index is the search replica. Writes for one record id are serialized and carry the
// record version, so a stale or post-delete write never overwrites newer state.
type Index struct {
	idx   bleve.Index
	locks *hashroute.Locks
	log   zerolog.Logger
}

// Open opens the index at path, creating it with the current mapping when it does not
// exist yet. An empty path opens an in-memory index.
func Open(path string, log zerolog.Logger) (*Index, error) {
	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		im, merr := NewMapping()
		if merr != nil {
			return nil, merr
		}
		idx, err = bleve.NewMemOnly(im)
	case exists(path):
		idx, err = bleve.Open(path)
	default:
		im, merr := NewMapping()
		if merr != nil {
			return nil, merr
		}
		log.Info().Str("path", path).Msg("search index missing, creating")
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{idx: idx, locks: hashroute.NewLocks(), log: log}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewMapping is the index schema: title and contents analyzed with the Korean analyzer,
// nothing else indexed. Keywords go through KoreanSearchAnalyzer instead.
func NewMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := addKoreanAnalyzers(im); err != nil {
		return nil, fmt.Errorf("register analyzer: %w", err)
	}
	text := bleve.NewTextFieldMapping()
	text.Analyzer = KoreanAnalyzer
	text.Store = false
	text.IncludeInAll = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(FieldTitle, text)
	doc.AddFieldMappingsAt(FieldContents, text)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = KoreanAnalyzer
	return im, nil
}

func (x *Index) Close() error {
	return x.idx.Close()
}

// Upsert writes doc unless the id is tombstoned or the index already holds a newer version.
// It reports whether the write was applied.
func (x *Index) Upsert(ctx context.Context, doc domain.SearchDocument) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock := x.locks.Lock(doc.ID)
	defer unlock()

	tomb, err := x.idx.GetInternal(tombKey(doc.ID))
	if err != nil {
		return false, fmt.Errorf("read tombstone %d: %w", doc.ID, err)
	}
	if tomb != nil {
		x.log.Debug().Int64("record_id", doc.ID).Msg("skip upsert of deleted record")
		return false, nil
	}
	cur, found, err := x.get(doc.ID)
	if err != nil {
		return false, err
	}
	if found && cur.Version > doc.Version {
		x.log.Debug().Int64("record_id", doc.ID).Int64("indexed_version", cur.Version).Int64("version", doc.Version).Msg("skip stale upsert")
		return false, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	b := x.idx.NewBatch()
	if err := b.Index(docID(doc.ID), map[string]interface{}{FieldTitle: doc.Title, FieldContents: doc.Contents}); err != nil {
		return false, fmt.Errorf("index document %d: %w", doc.ID, err)
	}
	b.SetInternal(docKey(doc.ID), raw)
	if err := x.idx.Batch(b); err != nil {
		return false, fmt.Errorf("index document %d: %w", doc.ID, err)
	}
	return true, nil
}

// Delete removes the document and tombstones its id. Deleting an absent id succeeds.
func (x *Index) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := x.locks.Lock(id)
	defer unlock()

	b := x.idx.NewBatch()
	b.Delete(docID(id))
	b.DeleteInternal(docKey(id))
	b.SetInternal(tombKey(id), []byte{1})
	if err := x.idx.Batch(b); err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	return nil
}

func (x *Index) Get(ctx context.Context, id int64) (domain.SearchDocument, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.SearchDocument{}, false, err
	}
	return x.get(id)
}

func (x *Index) get(id int64) (domain.SearchDocument, bool, error) {
	raw, err := x.idx.GetInternal(docKey(id))
	if err != nil {
		return domain.SearchDocument{}, false, fmt.Errorf("read document %d: %w", id, err)
	}
	if raw == nil {
		return domain.SearchDocument{}, false, nil
	}
	var doc domain.SearchDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.SearchDocument{}, false, fmt.Errorf("decode document %d: %w", id, err)
	}
	return doc, true, nil
}

// Search matches keyword against title or contents and returns one page of documents in
// relevance order together with the total hit count.
func (x *Index) Search(ctx context.Context, keyword string, offset, limit int) ([]domain.SearchDocument, int64, error) {
	title := bleve.NewMatchQuery(keyword)
	title.SetField(FieldTitle)
	title.Analyzer = KoreanSearchAnalyzer
	contents := bleve.NewMatchQuery(keyword)
	contents.SetField(FieldContents)
	contents.Analyzer = KoreanSearchAnalyzer

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(title, contents), limit, offset, false)
	req.SortBy([]string{"-_score", "_id"})
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("search %q: %w", keyword, err)
	}

	docs := make([]domain.SearchDocument, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("bad document id %q: %w", hit.ID, err)
		}
		doc, found, err := x.get(id)
		if err != nil {
			return nil, 0, err
		}
		if !found {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, int64(res.Total), nil
}

func (x *Index) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return x.idx.DocCount()
}

// Health reports whether the index answers a count.
func (x *Index) Health(ctx context.Context) error {
	_, err := x.Count(ctx)
	if errors.Is(err, bleve.ErrorIndexClosed) {
		return fmt.Errorf("search index closed: %w", err)
	}
	return err
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }

func docKey(id int64) []byte { return []byte(docKeyPrefix + docID(id)) }

func tombKey(id int64) []byte { return []byte(tombKeyPrefix + docID(id)) }
