package cd

import (
	"fmt"
	"strconv"
	"strings"
)

// Object-id scheme shared with the parent media-server process. The
// string form is only a serialization: callers split an incoming id with
// SplitObjectID and immediately decode the tail into the owning tree's
// typed selector, never slicing ids inside component logic.
const (
	// RootID is the objid of the service root container.
	RootID = "0"
	// ObjPrefix starts every objid below the root.
	ObjPrefix = "0$uprcl$"
)

// Tree identifies the sub-tree owning an object id.
type Tree int

const (
	TreeRoot Tree = iota
	TreeFolders
	TreeTags
	TreeUntagged
	TreePlaylists
)

func (t Tree) String() string {
	switch t {
	case TreeRoot:
		return "root"
	case TreeFolders:
		return "folders"
	case TreeTags:
		return "tags"
	case TreeUntagged:
		return "untagged"
	case TreePlaylists:
		return "playlists"
	}
	return "unknown"
}

// ErrBadObjectID is wrapped by all object-id decoding failures.
var ErrBadObjectID = fmt.Errorf("bad object id")

// SplitObjectID validates the prefix and returns the owning tree plus
// the $-separated selector tail (the tree-local part, prefix stripped).
func SplitObjectID(objid string) (Tree, []string, error) {
	switch objid {
	case "", RootID, "0$uprcl", strings.TrimSuffix(ObjPrefix, "$"):
		return TreeRoot, nil, nil
	}
	if !strings.HasPrefix(objid, ObjPrefix) {
		return TreeRoot, nil, fmt.Errorf("%w: %q", ErrBadObjectID, objid)
	}
	tail := strings.Split(objid[len(ObjPrefix):], "$")
	switch {
	case tail[0] == "folders":
		return TreeFolders, tail[1:], nil
	case tail[0] == "untagged":
		return TreeUntagged, tail[1:], nil
	case tail[0] == "playlists":
		return TreePlaylists, tail[1:], nil
	case tail[0] == "albums", tail[0] == "items", strings.HasPrefix(tail[0], "="):
		return TreeTags, tail, nil
	}
	if _, ok := ParseDirToken(tail[0]); ok {
		// Folder-scoped tag view; the tail keeps the d<N> token so the
		// catalog can recover the scope folder.
		return TreeTags, tail, nil
	}
	return TreeRoot, nil, fmt.Errorf("%w: unknown tree in %q", ErrBadObjectID, objid)
}

// FoldersID builds the objid for a folders-tree directory node.
func FoldersID(dirIdx int) string {
	if dirIdx == 0 {
		return ObjPrefix + "folders"
	}
	return fmt.Sprintf("%sfolders$d%d", ObjPrefix, dirIdx)
}

// ScopedTagsID builds the objid of the tag view scoped to a folders
// directory node. Selector parts appended by browsing keep the scope.
func ScopedTagsID(dirIdx int) string {
	return fmt.Sprintf("%sd%d", ObjPrefix, dirIdx)
}

// ParseDirToken decodes a d<N> directory token, as used by folders
// nodes and scoped tag views.
func ParseDirToken(tok string) (int, bool) {
	if len(tok) < 2 || tok[0] != 'd' {
		return 0, false
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FolderItemID builds the objid for a document leaf in the folders tree.
func FolderItemID(docIdx int) string {
	return fmt.Sprintf("%sfolders$i%d", ObjPrefix, docIdx)
}

// UntaggedID builds the objid for the untagged view root or one entry.
func UntaggedID(idx int) string {
	if idx == 0 {
		return ObjPrefix + "untagged"
	}
	return fmt.Sprintf("%suntagged$u%d", ObjPrefix, idx)
}

// TagsID builds a tags-tree objid from its selector parts, e.g.
// TagsID("albums", "12") or TagsID("=Artist").
func TagsID(parts ...string) string {
	return ObjPrefix + strings.Join(parts, "$")
}

// PlaylistID builds the objid for the playlists root or one playlist.
func PlaylistID(idx int) string {
	if idx == 0 {
		return ObjPrefix + "playlists"
	}
	return fmt.Sprintf("%splaylists$p%d", ObjPrefix, idx)
}
