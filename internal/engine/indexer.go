package engine

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/dhowden/tag"
	"go.uber.org/zap"
)

const indexBatchSize = 500

// Indexer rebuilds the engine's on-disk index from the configured top
// directories. It runs in the background and only offers a binary
// done/not-done poll, no progress stream: callers poll Done and read
// Err once it reports true.
type Indexer struct {
	log      *zap.Logger
	eng      *Engine
	topdirs  []string
	excludes []string

	mu      sync.Mutex
	running bool
	err     error
}

// NewIndexer creates an indexer over eng for the given top directories.
// Excludes are glob patterns matched against base names.
func NewIndexer(eng *Engine, topdirs []string, excludes []string, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{log: log, eng: eng, topdirs: topdirs, excludes: excludes}
}

// Start launches an index pass. Starting while a pass is running is an
// error; the coordinator guarantees single-flight.
func (ix *Indexer) Start() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.running {
		return errors.New("indexer already running")
	}
	ix.running = true
	ix.err = nil
	go ix.run()
	return nil
}

// Done reports whether no index pass is in flight.
func (ix *Indexer) Done() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return !ix.running
}

// Err returns the outcome of the last completed pass.
func (ix *Indexer) Err() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.err
}

func (ix *Indexer) run() {
	started := time.Now()
	err := ix.index()
	ix.log.Info("index pass finished",
		zap.Duration("elapsed", time.Since(started)), zap.Error(err))

	ix.mu.Lock()
	ix.running = false
	ix.err = err
	ix.mu.Unlock()
}

func (ix *Indexer) index() error {
	seen := make(map[string]bool)
	batch := ix.eng.idx.NewBatch()
	pending := 0

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := ix.eng.idx.Batch(batch); err != nil {
			return err
		}
		batch = ix.eng.idx.NewBatch()
		pending = 0
		return nil
	}
	add := func(doc Doc) error {
		seen[doc.Path] = true
		doc.Dirs = DirTree(doc.Dir)
		if err := batch.Index(doc.Path, doc); err != nil {
			return err
		}
		pending++
		if pending >= indexBatchSize {
			return flush()
		}
		return nil
	}

	for _, top := range ix.topdirs {
		top = strings.TrimRight(top, "/")
		err := filepath.WalkDir(top, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				ix.log.Warn("walk error", zap.String("path", path), zap.Error(err))
				return nil
			}
			if ix.excluded(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path == top {
					return nil
				}
				return add(Doc{
					Path:     path,
					Dir:      filepath.Dir(path),
					Filename: d.Name(),
					MIME:     MIMEDirectory,
				})
			}
			mime := MIMEForPath(path)
			if mime == "" {
				return nil
			}
			if mime == MIMEPlaylist {
				return add(Doc{
					Path:     path,
					Dir:      filepath.Dir(path),
					Filename: d.Name(),
					MIME:     mime,
				})
			}
			return add(ix.trackDoc(path, d.Name(), mime))
		})
		if err != nil {
			return err
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return ix.removeStale(seen)
}

// trackDoc builds the indexable record for one audio file. Tag read
// failures are data-quality anomalies, not errors: the doc falls back
// to path-derived fields and a warning.
func (ix *Indexer) trackDoc(path, name, mime string) Doc {
	doc := Doc{
		Path:     path,
		Dir:      filepath.Dir(path),
		Filename: name,
		MIME:     mime,
	}

	f, err := os.Open(path)
	if err != nil {
		ix.log.Warn("open for tags failed", zap.String("path", path), zap.Error(err))
		return doc
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		ix.log.Debug("no readable tags", zap.String("path", path), zap.Error(err))
		return doc
	}

	doc.Title = strings.TrimSpace(m.Title())
	doc.Artist = strings.TrimSpace(m.Artist())
	doc.Album = strings.TrimSpace(m.Album())
	doc.AlbumArtist = strings.TrimSpace(m.AlbumArtist())
	doc.Genre = strings.TrimSpace(m.Genre())
	doc.Composer = strings.TrimSpace(m.Composer())
	doc.Comment = strings.TrimSpace(m.Comment())
	doc.TrackNumber, _ = m.Track()
	doc.DiscNumber, _ = m.Disc()
	if y := m.Year(); y > 0 {
		doc.Date = strconv.Itoa(y)
	}
	doc.Conductor = rawTag(m, "TPE3", "CONDUCTOR", "conductor")
	doc.Orchestra = rawTag(m, "ORCHESTRA", "orchestra", "ensemble")
	doc.ContentGroup = rawTag(m, "TIT1", "GROUPING", "contentgroup")
	if pic := m.Picture(); pic != nil {
		switch pic.Ext {
		case "jpg", "jpeg":
			doc.EmbeddedArt = "jpg"
		case "png":
			doc.EmbeddedArt = "png"
		}
	}
	return doc
}

// rawTag digs format-specific frames out of the raw tag map; dhowden
// only surfaces the common fields through the Metadata interface.
func rawTag(m tag.Metadata, keys ...string) string {
	raw := m.Raw()
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func (ix *Indexer) excluded(name string) bool {
	for _, pat := range ix.excludes {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// removeStale drops index entries whose files vanished since the last
// pass, and entries that were not revisited this pass.
func (ix *Indexer) removeStale(seen map[string]bool) error {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), indexBatchSize, 0, false)
	batch := ix.eng.idx.NewBatch()
	removed := 0
	for from := 0; ; from += indexBatchSize {
		req.From = from
		res, err := ix.eng.idx.Search(req)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			break
		}
		for _, hit := range res.Hits {
			if !seen[hit.ID] {
				batch.Delete(hit.ID)
				removed++
			}
		}
		if len(res.Hits) < indexBatchSize {
			break
		}
	}
	if removed == 0 {
		return nil
	}
	ix.log.Info("removing stale index entries", zap.Int("count", removed))
	return ix.eng.idx.Batch(batch)
}
