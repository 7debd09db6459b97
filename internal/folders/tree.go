// Package folders projects the flat document array into a browsable
// directory tree. The tree is an arena: one growable slice of nodes,
// children and parents referenced by index, built in a single pass over
// the docs and immutable afterwards.
package folders

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// childRef locates a directory child: Dir indexes the node arena, Doc
// the document array. Either may be -1 (a placeholder directory has no
// doc, a plain file has no node).
type childRef struct {
	Dir int
	Doc int
}

type dirNode struct {
	parent   int
	children map[string]childRef
	// visible is true when the node has at least one track, playlist
	// or visible directory beneath it. Invisible nodes are omitted
	// from listings.
	visible bool
}

// Tree is the folders view over one generation's documents.
type Tree struct {
	log   *zap.Logger
	docs  []engine.Doc
	nodes []dirNode
}

// Build creates the tree. Node 0 is the synthetic super-root whose
// children are the configured top directories keyed by their full path.
func Build(docs []engine.Doc, topdirs []string, log *zap.Logger) *Tree {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tree{log: log, docs: docs}
	t.nodes = append(t.nodes, dirNode{parent: 0, children: map[string]childRef{}})

	cleaned := make([]string, 0, len(topdirs))
	for _, d := range topdirs {
		d = strings.TrimRight(d, "/")
		if d == "" {
			continue
		}
		cleaned = append(cleaned, d)
		idx := t.newNode(0)
		t.nodes[0].children[d] = childRef{Dir: idx, Doc: -1}
	}

	for docIdx := range docs {
		t.insert(docIdx, cleaned)
	}
	t.markVisible(0)
	return t
}

func (t *Tree) newNode(parent int) int {
	t.nodes = append(t.nodes, dirNode{parent: parent, children: map[string]childRef{}})
	return len(t.nodes) - 1
}

func (t *Tree) insert(docIdx int, topdirs []string) {
	doc := &t.docs[docIdx]

	// Longest-prefix match against the configured top directories.
	top := ""
	for _, d := range topdirs {
		if strings.HasPrefix(doc.Path, d+"/") && len(d) > len(top) {
			top = d
		}
	}
	if top == "" {
		t.log.Warn("doc outside configured top directories", zap.String("path", doc.Path))
		return
	}
	father := t.nodes[0].children[top].Dir

	rel := strings.Trim(strings.TrimPrefix(doc.Path, top), "/")
	if rel == "" {
		return
	}
	segs := strings.Split(rel, "/")

	// A content-group tag splices a virtual grouping directory in
	// front of the leaf name.
	if doc.ContentGroup != "" && doc.IsTrack() {
		segs = append(segs[:len(segs)-1], doc.ContentGroup, segs[len(segs)-1])
	}

	for i, elt := range segs {
		last := i == len(segs)-1
		if ref, ok := t.nodes[father].children[elt]; ok {
			if last {
				// Seen before as an intermediate placeholder; attach
				// the doc now. Last writer wins on duplicates.
				t.nodes[father].children[elt] = childRef{Dir: ref.Dir, Doc: docIdx}
				continue
			}
			if ref.Dir < 0 {
				// A file previously claimed this name; promote it to
				// a directory so deeper entries have a home.
				idx := t.newNode(father)
				t.nodes[father].children[elt] = childRef{Dir: idx, Doc: ref.Doc}
				ref.Dir = idx
			}
			father = ref.Dir
			continue
		}
		switch {
		case !last:
			idx := t.newNode(father)
			t.nodes[father].children[elt] = childRef{Dir: idx, Doc: -1}
			father = idx
		case doc.IsDir() || doc.IsPlaylist():
			// Directories and playlists own a node of their own; a
			// playlist node's children come from the expander.
			idx := t.newNode(father)
			t.nodes[father].children[elt] = childRef{Dir: idx, Doc: docIdx}
			father = idx
		default:
			t.nodes[father].children[elt] = childRef{Dir: -1, Doc: docIdx}
		}
	}
}

func (t *Tree) markVisible(idx int) bool {
	node := &t.nodes[idx]
	vis := false
	for _, ref := range node.children {
		if ref.Dir >= 0 {
			if t.markVisible(ref.Dir) {
				vis = true
			}
			continue
		}
		if ref.Doc >= 0 && t.docs[ref.Doc].IsTrack() {
			vis = true
		}
	}
	if !vis && node.parent != idx {
		// A doc-backed playlist node is visible even when empty here:
		// its children only exist at expansion time.
		if d := t.nodeDoc(idx); d >= 0 && t.docs[d].IsPlaylist() {
			vis = true
		}
	}
	node.visible = vis
	return vis
}

func (t *Tree) nodeDoc(idx int) int {
	parent := t.nodes[idx].parent
	for _, ref := range t.nodes[parent].children {
		if ref.Dir == idx {
			return ref.Doc
		}
	}
	return -1
}

// Docs returns the generation's document array.
func (t *Tree) Docs() []engine.Doc { return t.docs }

// NodeDoc returns the doc index owning a directory node, -1 when the
// node is a pure placeholder.
func (t *Tree) NodeDoc(dirIdx int) (int, error) {
	if dirIdx <= 0 || dirIdx >= len(t.nodes) {
		return -1, fmt.Errorf("%w: folders node %d out of range", cd.ErrBadObjectID, dirIdx)
	}
	return t.nodeDoc(dirIdx), nil
}

// Selector is the decoded form of a folders-tree object id.
type Selector struct {
	// Dir is a node index, or -1 when the selector names a leaf item.
	Dir int
	// Doc is a document index for leaf items, else -1.
	Doc int
}

// ParseSelector decodes the tree-local tail of a folders objid. The
// empty tail addresses the folders root.
func (t *Tree) ParseSelector(tail []string) (Selector, error) {
	if len(tail) == 0 {
		return Selector{Dir: 0, Doc: -1}, nil
	}
	if len(tail) != 1 || len(tail[0]) < 2 {
		return Selector{}, fmt.Errorf("%w: folders tail %v", cd.ErrBadObjectID, tail)
	}
	var n int
	if _, err := fmt.Sscanf(tail[0][1:], "%d", &n); err != nil || n < 0 {
		return Selector{}, fmt.Errorf("%w: folders tail %v", cd.ErrBadObjectID, tail)
	}
	switch tail[0][0] {
	case 'd':
		if n >= len(t.nodes) {
			return Selector{}, fmt.Errorf("%w: folders node %d out of range", cd.ErrBadObjectID, n)
		}
		return Selector{Dir: n, Doc: -1}, nil
	case 'i':
		if n >= len(t.docs) {
			return Selector{}, fmt.Errorf("%w: folders doc %d out of range", cd.ErrBadObjectID, n)
		}
		return Selector{Dir: -1, Doc: n}, nil
	}
	return Selector{}, fmt.Errorf("%w: folders tail %v", cd.ErrBadObjectID, tail)
}

// RootEntries returns the folders entry for the service root listing.
func RootEntries(pid string) []cd.Entry {
	return []cd.Entry{entries.Container(cd.FoldersID(0), pid, "[folders]")}
}

// Browse lists a directory node's children: visible subdirectories and
// audio items, in the shared listing order. The root node lists the
// configured top directories by base name.
func (t *Tree) Browse(sel Selector, host entries.Host) ([]cd.Entry, error) {
	if sel.Dir < 0 {
		// Leaf item metadata request.
		doc := &t.docs[sel.Doc]
		e, ok := entries.ForDoc(cd.FolderItemID(sel.Doc), cd.FoldersID(0), host, doc)
		if !ok {
			return nil, nil
		}
		return []cd.Entry{e}, nil
	}
	if sel.Dir >= len(t.nodes) {
		return nil, fmt.Errorf("%w: folders node %d out of range", cd.ErrBadObjectID, sel.Dir)
	}

	pid := cd.FoldersID(sel.Dir)
	var out []cd.Entry
	for name, ref := range t.nodes[sel.Dir].children {
		if ref.Dir >= 0 {
			if !t.nodes[ref.Dir].visible {
				continue
			}
			e := entries.Container(cd.FoldersID(ref.Dir), pid, filepath.Base(name))
			if ref.Doc >= 0 && t.docs[ref.Doc].IsPlaylist() {
				e.Class = cd.ClassPlaylist
			}
			e.ArtURI = t.artURIFor(ref.Dir)
			out = append(out, e)
			continue
		}
		if ref.Doc < 0 {
			t.log.Warn("entry with neither node nor doc", zap.String("name", name))
			continue
		}
		if e, ok := entries.ForDoc(cd.FolderItemID(ref.Doc), pid, host, &t.docs[ref.Doc]); ok {
			out = append(out, e)
		}
	}
	entries.Sort(out)
	return out, nil
}

// artURIFor scans a directory's direct children for any doc with cover
// art. No recursive search.
func (t *Tree) artURIFor(dirIdx int) string {
	names := make([]string, 0, len(t.nodes[dirIdx].children))
	for name := range t.nodes[dirIdx].children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref := t.nodes[dirIdx].children[name]
		if ref.Doc >= 0 && !t.docs[ref.Doc].IsDir() && t.docs[ref.Doc].ArtURI != "" {
			return t.docs[ref.Doc].ArtURI
		}
	}
	return ""
}

// PathOf reconstructs the absolute logical path of a directory node by
// walking parent pointers. It returns "/" for the root and for any id
// that cannot be resolved; it never fails, being a best-effort filter
// input for search.
func (t *Tree) PathOf(dirIdx int) string {
	if dirIdx <= 0 || dirIdx >= len(t.nodes) {
		return "/"
	}
	var segs []string
	for dirIdx != 0 {
		parent := t.nodes[dirIdx].parent
		found := ""
		for name, ref := range t.nodes[parent].children {
			if ref.Dir == dirIdx {
				found = name
				break
			}
		}
		if found == "" {
			return "/"
		}
		segs = append(segs, found)
		dirIdx = parent
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteString(segs[i])
		b.WriteString("/")
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Stat resolves an absolute path to its document index by walking the
// tree, -1 when the path is not indexed.
func (t *Tree) Stat(path string) int {
	top := ""
	for name := range t.nodes[0].children {
		if strings.HasPrefix(path, name+"/") && len(name) > len(top) {
			top = name
		}
	}
	if top == "" {
		return -1
	}
	father := t.nodes[0].children[top].Dir
	rel := strings.Trim(strings.TrimPrefix(path, top), "/")
	if rel == "" {
		return -1
	}
	segs := strings.Split(rel, "/")
	for i, elt := range segs {
		ref, ok := t.nodes[father].children[elt]
		if !ok {
			return -1
		}
		if i == len(segs)-1 {
			return ref.Doc
		}
		if ref.Dir < 0 {
			return -1
		}
		father = ref.Dir
	}
	return -1
}

// NodeCount returns the number of arena nodes, including the root.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// IsTopDir reports whether dirIdx is one of the configured top
// directories, the direct children of the synthetic root.
func (t *Tree) IsTopDir(dirIdx int) bool {
	return dirIdx > 0 && dirIdx < len(t.nodes) && t.nodes[dirIdx].parent == 0
}
