// Package catalog owns the indexing lifecycle and routes browse and
// search requests to the current generation's trees.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/artwork"
	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/internal/folders"
	"github.com/tunedeck/catalogd/internal/playlists"
	"github.com/tunedeck/catalogd/internal/tags"
	"github.com/tunedeck/catalogd/internal/untagged"
	"github.com/tunedeck/catalogd/internal/upnpsearch"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// State is the coordinator lifecycle phase.
type State string

const (
	// StateIdle serves the current generation.
	StateIdle State = "idle"
	// StateIndexing runs the background indexer while still serving
	// the previous generation.
	StateIndexing State = "indexing"
	// StateRebuilding constructs the new trees; requests get a
	// placeholder with nocache until the swap.
	StateRebuilding State = "rebuilding"
)

const pollInterval = 500 * time.Millisecond

// Generation is one immutable snapshot of the browsable catalog.
type Generation struct {
	Seq       int
	Docs      []engine.Doc
	Folders   *folders.Tree
	Tags      *tags.Projection
	Untagged  *untagged.View
	Playlists *playlists.Index

	byPath map[string]int
}

// DocIdxByPath resolves a document path to its store index, -1 when
// the generation does not hold it.
func (g *Generation) DocIdxByPath(p string) int {
	if i, ok := g.byPath[p]; ok {
		return i
	}
	return -1
}

// Config carries the coordinator policies.
type Config struct {
	TopDirs  []string
	Excludes []string
	Tags     tags.Config
}

// Catalog is the long-lived coordinator. The generation pointer swaps
// under the write lock; requests snapshot it under the read lock and
// work on the snapshot unlocked.
type Catalog struct {
	log   *zap.Logger
	cfg   Config
	eng   *engine.Engine
	host  entries.Host
	trans *upnpsearch.Translator

	mu  sync.RWMutex
	gen *Generation

	stateMu sync.Mutex
	state   State
	seq     int
}

// New builds an idle catalog with no generation yet.
func New(eng *engine.Engine, cfg Config, host entries.Host, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		log:   log,
		cfg:   cfg,
		eng:   eng,
		host:  host,
		trans: upnpsearch.New(log),
		state: StateIdle,
	}
}

// Run serves an existing index immediately when one is on disk, then
// starts a fresh indexing pass. Blocks until ctx is done.
func (c *Catalog) Run(ctx context.Context) error {
	if n, err := c.eng.DocCount(); err == nil && n > 0 {
		c.setState(StateRebuilding)
		if err := c.rebuild(ctx); err != nil {
			c.log.Error("initial build failed", zap.Error(err))
		}
		c.setState(StateIdle)
	}
	c.StartUpdate(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// State reports the lifecycle phase.
func (c *Catalog) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Catalog) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.log.Info("catalog state", zap.String("state", string(s)))
}

// casState advances the state only from an expected phase, reporting
// whether the transition happened.
func (c *Catalog) casState(from, to State) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

// StartUpdate kicks a background index pass. A pass already running
// makes this a no-op; it reports whether a new one started.
func (c *Catalog) StartUpdate(ctx context.Context) bool {
	if !c.casState(StateIdle, StateIndexing) {
		return false
	}
	go c.runUpdate(ctx)
	return true
}

func (c *Catalog) runUpdate(ctx context.Context) {
	ix := engine.NewIndexer(c.eng, c.cfg.TopDirs, c.cfg.Excludes, c.log)
	if err := ix.Start(); err != nil {
		c.log.Error("indexer start failed", zap.Error(err))
		c.setState(StateIdle)
		return
	}
	// The indexer exposes no progress callback, only done/not-done.
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for !ix.Done() {
		select {
		case <-ctx.Done():
			c.setState(StateIdle)
			return
		case <-tick.C:
		}
	}
	if err := ix.Err(); err != nil {
		// Keep serving the previous generation.
		c.log.Error("index pass failed", zap.Error(err))
		c.setState(StateIdle)
		return
	}

	c.setState(StateRebuilding)
	if err := c.rebuild(ctx); err != nil {
		c.log.Error("rebuild failed", zap.Error(err))
	}
	c.setState(StateIdle)
}

// rebuild constructs the next generation outside any lock, then swaps
// the pointer under the write lock.
func (c *Catalog) rebuild(ctx context.Context) error {
	start := time.Now()
	docs, err := c.eng.AllDocs(ctx)
	if err != nil {
		return fmt.Errorf("fetch documents: %w", err)
	}
	artwork.Apply(docs, c.host)
	tree := folders.Build(docs, c.cfg.TopDirs, c.log)
	proj, err := tags.Build(docs, c.cfg.Tags, c.log)
	if err != nil {
		return fmt.Errorf("tag projection: %w", err)
	}
	byPath := make(map[string]int, len(docs))
	for i := range docs {
		byPath[docs[i].Path] = i
	}

	c.stateMu.Lock()
	c.seq++
	seq := c.seq
	c.stateMu.Unlock()
	next := &Generation{
		Seq:       seq,
		Docs:      docs,
		Folders:   tree,
		Tags:      proj,
		Untagged:  untagged.Build(docs),
		Playlists: playlists.Build(docs, tree, c.log),
		byPath:    byPath,
	}

	c.mu.Lock()
	prev := c.gen
	c.gen = next
	c.mu.Unlock()
	if prev != nil {
		prev.Tags.Close()
	}
	c.log.Info("generation published",
		zap.Int("seq", seq), zap.Int("docs", len(docs)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Generation snapshots the current generation, nil before the first
// build completes.
func (c *Catalog) Generation() *Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// serveable returns the generation to answer from, or nil with the
// placeholder rule applied: no generation yet, or a rebuild racing.
func (c *Catalog) serveable() *Generation {
	if c.State() == StateRebuilding {
		return nil
	}
	return c.Generation()
}

func (c *Catalog) placeholder(objid string) ([]cd.Entry, bool) {
	return []cd.Entry{entries.Placeholder(objid+"$0", objid, c.host)}, true
}

// Browse lists an object's children (or its metadata for item leaves).
// The bool result is the nocache flag.
func (c *Catalog) Browse(ctx context.Context, objid, flag string) ([]cd.Entry, bool, error) {
	gen := c.serveable()
	if gen == nil {
		list, nocache := c.placeholder(objid)
		return list, nocache, nil
	}
	tree, tail, err := cd.SplitObjectID(objid)
	if err != nil {
		return nil, false, err
	}
	var list []cd.Entry
	switch tree {
	case cd.TreeRoot:
		list, err = c.rootEntries(gen, flag)
	case cd.TreeFolders:
		var sel folders.Selector
		if sel, err = gen.Folders.ParseSelector(tail); err == nil {
			list, err = gen.Folders.Browse(sel, c.host)
			if err == nil && len(c.cfg.TopDirs) > 1 && gen.Folders.IsTopDir(sel.Dir) {
				// Per-collection tag view; the global one mixes all
				// top directories together.
				list = append(list, entries.Container(
					cd.ScopedTagsID(sel.Dir), objid, ">> Tag View"))
			}
		}
	case cd.TreeTags:
		rest, scope := tail, ""
		if n, ok := cd.ParseDirToken(tail[0]); ok {
			p := gen.Folders.PathOf(n)
			if p == "/" {
				err = fmt.Errorf("%w: unknown scope folder in %q", cd.ErrBadObjectID, objid)
				break
			}
			scope, rest = p, tail[1:]
		}
		if len(rest) == 0 {
			list, err = gen.Tags.RootEntries(objid, scope)
		} else {
			list, err = gen.Tags.Browse(objid, rest, scope, c.host)
		}
	case cd.TreeUntagged:
		var sel untagged.Selector
		if sel, err = untagged.ParseSelector(tail); err == nil {
			list, err = gen.Untagged.Browse(sel, c.host)
		}
	case cd.TreePlaylists:
		var sel playlists.Selector
		if sel, err = playlists.ParseSelector(tail); err == nil {
			list, err = gen.Playlists.Browse(sel, c.host)
		}
	}
	if err != nil {
		return nil, false, err
	}
	return list, false, nil
}

// rootEntries serves the service root: the four sub-tree containers,
// with the tag dimensions spliced in at top level.
func (c *Catalog) rootEntries(gen *Generation, flag string) ([]cd.Entry, error) {
	if flag == cd.FlagMeta {
		root := entries.Container(cd.RootID, cd.RootID, "catalog")
		return []cd.Entry{root}, nil
	}
	out := folders.RootEntries(cd.RootID)
	out = append(out, gen.Playlists.RootEntry(cd.RootID))
	tagRoots, err := gen.Tags.RootEntries(cd.RootID, "")
	if err != nil {
		return nil, err
	}
	out = append(out, tagRoots...)
	if gen.Untagged.Len() > 0 {
		out = append(out, gen.Untagged.RootEntry(cd.RootID))
	}
	return out, nil
}

// Search translates the UPnP criteria, scopes it to the browsed
// container's subtree when that is a folder, and runs it against the
// engine. The bool result is the nocache flag.
func (c *Catalog) Search(ctx context.Context, objid, criteria string) ([]cd.Entry, bool, error) {
	gen := c.serveable()
	if gen == nil {
		list, nocache := c.placeholder(objid)
		return list, nocache, nil
	}
	scope := ""
	if tree, tail, err := cd.SplitObjectID(objid); err == nil && tree == cd.TreeFolders {
		if sel, err := gen.Folders.ParseSelector(tail); err == nil && sel.Dir > 0 {
			scope = gen.Folders.PathOf(sel.Dir)
		}
	}
	native, err := c.trans.Translate(criteria, scope)
	if err != nil {
		return nil, false, fmt.Errorf("bad search criteria: %w", err)
	}
	c.log.Debug("search", zap.String("criteria", criteria), zap.String("native", native))

	hits, err := c.eng.Query(ctx, native)
	if err != nil {
		return nil, false, err
	}
	var out []cd.Entry
	for i := range hits {
		docIdx := gen.DocIdxByPath(hits[i].Path)
		if docIdx < 0 {
			// The index moved on since this generation was built.
			continue
		}
		doc := &gen.Docs[docIdx]
		if !doc.IsTrack() {
			continue
		}
		if e, ok := entries.ForDoc(cd.FolderItemID(docIdx), objid, c.host, doc); ok {
			out = append(out, e)
		}
	}
	entries.Sort(out)
	return out, false, nil
}

// Resolve maps an item objid to its media URI and MIME type.
func (c *Catalog) Resolve(objid string) (string, string, error) {
	gen := c.serveable()
	if gen == nil {
		return "", "", fmt.Errorf("catalog not ready")
	}
	tree, tail, err := cd.SplitObjectID(objid)
	if err != nil {
		return "", "", err
	}
	var docIdx = -1
	switch tree {
	case cd.TreeFolders:
		sel, err := gen.Folders.ParseSelector(tail)
		if err != nil {
			return "", "", err
		}
		docIdx = sel.Doc
	case cd.TreeUntagged:
		sel, err := untagged.ParseSelector(tail)
		if err != nil {
			return "", "", err
		}
		list, err := gen.Untagged.Browse(sel, c.host)
		if err != nil || len(list) != 1 {
			return "", "", fmt.Errorf("%w: %q", cd.ErrBadObjectID, objid)
		}
		return list[0].URI, list[0].MIME, nil
	case cd.TreePlaylists:
		sel, err := playlists.ParseSelector(tail)
		if err != nil {
			return "", "", err
		}
		if sel.Entry < 0 {
			return "", "", fmt.Errorf("%w: not an item: %q", cd.ErrBadObjectID, objid)
		}
		list, err := gen.Playlists.Browse(sel, c.host)
		if err != nil || len(list) != 1 {
			return "", "", fmt.Errorf("%w: %q", cd.ErrBadObjectID, objid)
		}
		return list[0].URI, list[0].MIME, nil
	}
	if docIdx < 0 || docIdx >= len(gen.Docs) {
		return "", "", fmt.Errorf("%w: not an item: %q", cd.ErrBadObjectID, objid)
	}
	doc := &gen.Docs[docIdx]
	if !doc.IsTrack() {
		return "", "", fmt.Errorf("%w: not a track: %q", cd.ErrBadObjectID, objid)
	}
	return c.host.TrackURI(doc), doc.MIME, nil
}

// Status reports the lifecycle phase and generation counts.
func (c *Catalog) Status() cd.StatusReply {
	st := cd.StatusReply{State: string(c.State())}
	gen := c.Generation()
	if gen == nil {
		return st
	}
	st.Generation = uint64(gen.Seq)
	st.Docs = len(gen.Docs)
	st.Albums = gen.Tags.Albums()
	st.Tracks = gen.Tags.Tracks()
	st.Playlists = gen.Playlists.Len()
	return st
}
