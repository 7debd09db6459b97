// Package playlists serves .m3u documents as browsable containers,
// expanding their referenced tracks on demand.
package playlists

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/internal/folders"
	"github.com/tunedeck/catalogd/pkg/cd"
)

var schemeRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// Index is the per-generation list of playlist documents. The file
// contents are not cached: each browse re-reads the playlist, so an
// edited file shows up without a rebuild.
type Index struct {
	log     *zap.Logger
	docs    []engine.Doc
	tree    *folders.Tree
	docIdxs []int
}

// Build collects the generation's playlist documents in store order.
func Build(docs []engine.Doc, tree *folders.Tree, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	ix := &Index{log: log, docs: docs, tree: tree}
	for i := range docs {
		if docs[i].IsPlaylist() {
			ix.docIdxs = append(ix.docIdxs, i)
		}
	}
	return ix
}

// Len reports how many playlists the generation has.
func (ix *Index) Len() int { return len(ix.docIdxs) }

// RootEntry is the playlists container in the service root listing.
func (ix *Index) RootEntry(pid string) cd.Entry {
	return entries.Container(cd.PlaylistID(0), pid,
		fmt.Sprintf("%d playlists", len(ix.docIdxs)))
}

// Selector addresses one playlist (the list when Idx is -1), or one
// expanded entry within it when Entry is not -1.
type Selector struct {
	Idx   int
	Entry int
}

// ParseSelector decodes a playlists-tree objid tail: empty, p<N>, or
// p<N>$e<M> for one expanded entry (remote streams have no folder-tree
// id, so metadata requests come back for these).
func ParseSelector(tail []string) (Selector, error) {
	if len(tail) == 0 {
		return Selector{Idx: -1, Entry: -1}, nil
	}
	if len(tail) > 2 || !strings.HasPrefix(tail[0], "p") {
		return Selector{}, fmt.Errorf("%w: playlist selector %v", cd.ErrBadObjectID, tail)
	}
	var idx int
	if _, err := fmt.Sscanf(tail[0], "p%d", &idx); err != nil || idx <= 0 {
		return Selector{}, fmt.Errorf("%w: playlist selector %q", cd.ErrBadObjectID, tail[0])
	}
	entry := -1
	if len(tail) == 2 {
		if _, err := fmt.Sscanf(tail[1], "e%d", &entry); err != nil || entry < 0 {
			return Selector{}, fmt.Errorf("%w: playlist entry %q", cd.ErrBadObjectID, tail[1])
		}
	}
	return Selector{Idx: idx, Entry: entry}, nil
}

// Browse lists the playlists, expands one into its tracks, or returns
// the single addressed entry.
func (ix *Index) Browse(sel Selector, host entries.Host) ([]cd.Entry, error) {
	if sel.Idx < 0 {
		out := make([]cd.Entry, 0, len(ix.docIdxs))
		for n, docIdx := range ix.docIdxs {
			e := entries.Container(cd.PlaylistID(n+1), cd.PlaylistID(0),
				ix.docs[docIdx].DisplayTitle())
			e.Class = cd.ClassPlaylist
			out = append(out, e)
		}
		entries.Sort(out)
		return out, nil
	}
	if sel.Idx < 1 || sel.Idx > len(ix.docIdxs) {
		return nil, fmt.Errorf("%w: playlist index %d", cd.ErrBadObjectID, sel.Idx)
	}
	list, err := ix.expand(sel.Idx, host)
	if err != nil || sel.Entry < 0 {
		return list, err
	}
	if sel.Entry >= len(list) {
		return nil, fmt.Errorf("%w: playlist entry e%d", cd.ErrBadObjectID, sel.Entry)
	}
	return list[sel.Entry : sel.Entry+1], nil
}

// expand re-parses the playlist file and resolves each line: local
// paths through the folder tree, URLs as synthetic remote tracks.
func (ix *Index) expand(idx int, host entries.Host) ([]cd.Entry, error) {
	plDoc := &ix.docs[ix.docIdxs[idx-1]]
	f, err := os.Open(plDoc.Path)
	if err != nil {
		return nil, fmt.Errorf("open playlist: %w", err)
	}
	defer f.Close()

	pid := cd.PlaylistID(idx)
	plDir := filepath.Dir(plDoc.Path)
	var out []cd.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if schemeRE.MatchString(line) {
			// No probing of remote streams: assume audio.
			doc := engine.Doc{
				MIME:      "audio/mpeg",
				Title:     path.Base(line),
				RemoteURL: line,
			}
			if e, ok := entries.ForDoc(pid+"$e"+fmt.Sprint(len(out)), pid, host, &doc); ok {
				out = append(out, e)
			}
			continue
		}
		p := line
		if !filepath.IsAbs(p) {
			p = filepath.Join(plDir, p)
		}
		p = filepath.Clean(p)
		docIdx := ix.tree.Stat(p)
		if docIdx < 0 {
			ix.log.Warn("playlist entry not in catalog",
				zap.String("playlist", plDoc.Path), zap.String("entry", line))
			continue
		}
		if e, ok := entries.ForDoc(cd.FolderItemID(docIdx), pid, host, &ix.docs[docIdx]); ok {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return out, nil
}
