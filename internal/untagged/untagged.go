// Package untagged serves the flat list of audio tracks that carry no
// title tag, computed once per generation.
package untagged

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// View is the per-generation untagged filter. Immutable after Build.
type View struct {
	docs    []engine.Doc
	docIdxs []int // sorted by display title, case-insensitive
}

// Build scans the docs for audio tracks with an empty title.
func Build(docs []engine.Doc) *View {
	v := &View{docs: docs}
	for i := range docs {
		if docs[i].IsTrack() && docs[i].Title == "" {
			v.docIdxs = append(v.docIdxs, i)
		}
	}
	sort.SliceStable(v.docIdxs, func(a, b int) bool {
		return strings.ToLower(v.docs[v.docIdxs[a]].DisplayTitle()) <
			strings.ToLower(v.docs[v.docIdxs[b]].DisplayTitle())
	})
	return v
}

// Len reports how many untagged tracks the generation has.
func (v *View) Len() int { return len(v.docIdxs) }

// RootEntry is the view's container in the service root listing.
func (v *View) RootEntry(pid string) cd.Entry {
	return entries.Container(cd.UntaggedID(0), pid, "[untagged]")
}

// Selector addresses one untagged entry, or the whole view when Idx
// is -1.
type Selector struct {
	Idx int
}

// ParseSelector decodes an untagged-tree objid tail.
func ParseSelector(tail []string) (Selector, error) {
	if len(tail) == 0 {
		return Selector{Idx: -1}, nil
	}
	if len(tail) != 1 || !strings.HasPrefix(tail[0], "u") {
		return Selector{}, fmt.Errorf("%w: untagged selector %v", cd.ErrBadObjectID, tail)
	}
	var idx int
	if _, err := fmt.Sscanf(tail[0], "u%d", &idx); err != nil {
		return Selector{}, fmt.Errorf("%w: untagged selector %q", cd.ErrBadObjectID, tail[0])
	}
	if idx <= 0 {
		return Selector{}, fmt.Errorf("%w: untagged index %d", cd.ErrBadObjectID, idx)
	}
	return Selector{Idx: idx}, nil
}

// Browse lists the view (Idx -1) or a single entry's metadata.
func (v *View) Browse(sel Selector, host entries.Host) ([]cd.Entry, error) {
	if sel.Idx < 0 {
		out := make([]cd.Entry, 0, len(v.docIdxs))
		for n, docIdx := range v.docIdxs {
			e, ok := entries.ForDoc(cd.UntaggedID(n+1), cd.UntaggedID(0), host, &v.docs[docIdx])
			if ok {
				out = append(out, e)
			}
		}
		return out, nil
	}
	if sel.Idx < 1 || sel.Idx > len(v.docIdxs) {
		return nil, fmt.Errorf("%w: untagged index %d", cd.ErrBadObjectID, sel.Idx)
	}
	docIdx := v.docIdxs[sel.Idx-1]
	e, ok := entries.ForDoc(cd.UntaggedID(sel.Idx), cd.UntaggedID(0), host, &v.docs[docIdx])
	if !ok {
		return nil, nil
	}
	return []cd.Entry{e}, nil
}
