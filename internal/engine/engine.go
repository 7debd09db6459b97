package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// fetchPage is the match-all retrieval page size. The engine reports an
// estimate up front, so pages are just a bound on per-call memory.
const fetchPage = 500

// Engine wraps the on-disk full-text index. It is the only component
// that talks to bleve; everything above sees []Doc and query strings.
type Engine struct {
	log  *zap.Logger
	path string
	idx  bleve.Index
}

// Open opens the index at path, creating it with the catalog field
// mapping when absent.
func Open(path string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var idx bleve.Index
	var err error
	if _, serr := os.Stat(path); os.IsNotExist(serr) {
		idx, err = bleve.New(path, indexMapping())
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &Engine{log: log, path: path, idx: idx}, nil
}

// Close releases the index.
func (e *Engine) Close() error { return e.idx.Close() }

// DocCount returns the number of indexed documents.
func (e *Engine) DocCount() (uint64, error) { return e.idx.DocCount() }

// AllDocs materializes every indexed document, ordered by path. This is
// the generation build's single "match everything" query; any failure
// aborts the build and the previous generation stays current.
func (e *Engine) AllDocs(ctx context.Context) ([]Doc, error) {
	total, err := e.idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	e.log.Info("fetching all docs", zap.Uint64("estimated", total))

	docs := make([]Doc, 0, total)
	for from := 0; ; from += fetchPage {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), fetchPage, from, false)
		req.Fields = []string{"*"}
		req.SortBy([]string{"path"})
		res, err := e.idx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("match-all query: %w", err)
		}
		if len(res.Hits) == 0 {
			break
		}
		for _, hit := range res.Hits {
			docs = append(docs, docFromFields(hit.ID, hit.Fields))
		}
		if len(res.Hits) < fetchPage {
			break
		}
	}
	e.log.Info("retrieved docs", zap.Int("count", len(docs)))
	return docs, nil
}

// Query executes a native query string and returns matching docs. The
// literal "*" runs a match-all.
func (e *Engine) Query(ctx context.Context, native string) ([]Doc, error) {
	var q = bleve.NewSearchRequestOptions(queryFor(native), fetchPage, 0, false)
	q.Fields = []string{"*"}
	q.SortBy([]string{"path"})

	var docs []Doc
	for from := 0; ; from += fetchPage {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.From = from
		res, err := e.idx.Search(q)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", native, err)
		}
		if from == 0 {
			e.log.Debug("query estimate",
				zap.String("query", native), zap.Uint64("total", res.Total))
		}
		if len(res.Hits) == 0 {
			break
		}
		for _, hit := range res.Hits {
			docs = append(docs, docFromFields(hit.ID, hit.Fields))
		}
		if len(res.Hits) < fetchPage {
			break
		}
	}
	return docs, nil
}

func queryFor(native string) query.Query {
	if native == "*" {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewQueryStringQuery(native)
}

// indexMapping declares the catalog document schema: keyword fields
// for exact filters (path, dir, the dirtree ancestor list, mtype),
// text fields for searchable tags and numeric fields for track
// ordering.
func indexMapping() mapping.IndexMapping {
	dm := bleve.NewDocumentMapping()

	kw := bleve.NewKeywordFieldMapping()
	for _, f := range []string{"path", "dir", "dirtree", "mtype", "embdimg"} {
		dm.AddFieldMappingsAt(f, kw)
	}
	txt := bleve.NewTextFieldMapping()
	for _, f := range []string{
		"filename", "title", "artist", "album", "albumartist", "date",
		"genre", "comment", "composer", "conductor", "orchestra",
		"contentgroup",
	} {
		dm.AddFieldMappingsAt(f, txt)
	}
	num := bleve.NewNumericFieldMapping()
	for _, f := range []string{"tracknumber", "discnumber", "duration"} {
		dm.AddFieldMappingsAt(f, num)
	}

	m := bleve.NewIndexMapping()
	m.DefaultMapping = dm
	return m
}

// docFromFields rebuilds a Doc from a search hit's stored fields.
func docFromFields(id string, fields map[string]interface{}) Doc {
	str := func(f string) string {
		if v, ok := fields[f].(string); ok {
			return v
		}
		return ""
	}
	num := func(f string) int {
		if v, ok := fields[f].(float64); ok {
			return int(v)
		}
		return 0
	}
	d := Doc{
		Path:         id,
		Dir:          str("dir"),
		Filename:     str("filename"),
		MIME:         str("mtype"),
		Title:        str("title"),
		Artist:       str("artist"),
		Album:        str("album"),
		AlbumArtist:  str("albumartist"),
		TrackNumber:  num("tracknumber"),
		DiscNumber:   num("discnumber"),
		Date:         str("date"),
		Genre:        str("genre"),
		Comment:      str("comment"),
		Composer:     str("composer"),
		Conductor:    str("conductor"),
		Orchestra:    str("orchestra"),
		ContentGroup: str("contentgroup"),
		DurationSec:  num("duration"),
		EmbeddedArt:  str("embdimg"),
	}
	if d.Path == "" {
		d.Path = str("path")
	}
	if d.Dir != "" {
		d.Dirs = DirTree(d.Dir)
	}
	return d
}
