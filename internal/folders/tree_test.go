package folders

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/pkg/cd"
)

var testHost = entries.Host{HostPort: "127.0.0.1:9000", PathPrefix: "/uprcl"}

func testDocs() []engine.Doc {
	return []engine.Doc{
		{Path: "/music/rock", MIME: engine.MIMEDirectory},
		{Path: "/music/rock/a.mp3", Filename: "a.mp3", MIME: "audio/mpeg", Title: "A", TrackNumber: 1},
		{Path: "/music/rock/b.mp3", Filename: "b.mp3", MIME: "audio/mpeg", Title: "B", TrackNumber: 2},
		{Path: "/music/empty", MIME: engine.MIMEDirectory},
		{Path: "/music/empty/readme.txt", Filename: "readme.txt", MIME: ""},
		{Path: "/music/mix.m3u", Filename: "mix.m3u", MIME: engine.MIMEPlaylist},
	}
}

func TestBrowseRootListsTopdir(t *testing.T) {
	tree := Build(testDocs(), []string{"/music"}, zap.NewNop())

	sel, err := tree.ParseSelector(nil)
	if err != nil {
		t.Fatalf("parse root selector: %v", err)
	}
	list, err := tree.Browse(sel, testHost)
	if err != nil {
		t.Fatalf("browse root: %v", err)
	}
	if len(list) != 1 || list[0].Title != "music" {
		t.Fatalf("expected the top directory, got %+v", list)
	}
}

func TestBrowseHidesNonAudioDirectories(t *testing.T) {
	tree := Build(testDocs(), []string{"/music"}, zap.NewNop())

	root, err := tree.Browse(Selector{Dir: 0, Doc: -1}, testHost)
	if err != nil {
		t.Fatalf("browse root: %v", err)
	}
	tail := root[0].ID[strings.LastIndex(root[0].ID, "$")+1:]
	sel, err := tree.ParseSelector([]string{tail})
	if err != nil {
		t.Fatalf("parse topdir selector: %v", err)
	}
	list, err := tree.Browse(sel, testHost)
	if err != nil {
		t.Fatalf("browse topdir: %v", err)
	}

	titles := map[string]bool{}
	for _, e := range list {
		titles[e.Title] = true
	}
	if titles["empty"] {
		t.Fatalf("directory without audio should be hidden: %+v", list)
	}
	if !titles["rock"] || !titles["mix.m3u"] {
		t.Fatalf("expected rock and the playlist, got %+v", list)
	}
	for _, e := range list {
		if e.Title == "mix.m3u" && e.Class != cd.ClassPlaylist {
			t.Fatalf("playlist should carry the playlist class: %+v", e)
		}
	}
}

func TestBrowseDirectoryOrdersTracks(t *testing.T) {
	docs := testDocs()
	tree := Build(docs, []string{"/music"}, zap.NewNop())

	dirIdx := findDir(t, tree, "/music/rock/")
	list, err := tree.Browse(Selector{Dir: dirIdx, Doc: -1}, testHost)
	if err != nil {
		t.Fatalf("browse rock: %v", err)
	}
	if len(list) != 2 || list[0].Title != "A" || list[1].Title != "B" {
		t.Fatalf("unexpected rock listing: %+v", list)
	}
	if list[0].ID != cd.FolderItemID(1) {
		t.Fatalf("item id should index the doc array: %+v", list[0])
	}
}

func TestContentGroupSplicesVirtualFolder(t *testing.T) {
	docs := []engine.Doc{
		{Path: "/music/box/a.mp3", Filename: "a.mp3", MIME: "audio/mpeg", Title: "A", ContentGroup: "Early Works"},
		{Path: "/music/box/b.mp3", Filename: "b.mp3", MIME: "audio/mpeg", Title: "B"},
	}
	tree := Build(docs, []string{"/music"}, zap.NewNop())

	dirIdx := findDir(t, tree, "/music/box/")
	list, err := tree.Browse(Selector{Dir: dirIdx, Doc: -1}, testHost)
	if err != nil {
		t.Fatalf("browse box: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected virtual group plus plain track, got %+v", list)
	}
	if !list[0].IsContainer() || list[0].Title != "Early Works" {
		t.Fatalf("content group should splice a folder: %+v", list)
	}
}

func TestPathOfRoundTrip(t *testing.T) {
	tree := Build(testDocs(), []string{"/music"}, zap.NewNop())
	dirIdx := findDir(t, tree, "/music/rock/")
	if got := tree.PathOf(dirIdx); got != "/music/rock/" {
		t.Fatalf("PathOf = %q", got)
	}
	if got := tree.PathOf(0); got != "/" {
		t.Fatalf("root PathOf = %q", got)
	}
	if got := tree.PathOf(9999); got != "/" {
		t.Fatalf("out-of-range PathOf = %q", got)
	}
}

func TestIsTopDir(t *testing.T) {
	tree := Build(testDocs(), []string{"/music"}, zap.NewNop())
	top := findDir(t, tree, "/music/")
	if !tree.IsTopDir(top) {
		t.Fatalf("node %d should be a top directory", top)
	}
	rock := findDir(t, tree, "/music/rock/")
	if tree.IsTopDir(rock) {
		t.Fatal("nested directory reported as top directory")
	}
	if tree.IsTopDir(0) || tree.IsTopDir(9999) {
		t.Fatal("root and out-of-range nodes are not top directories")
	}
}

func TestStat(t *testing.T) {
	tree := Build(testDocs(), []string{"/music"}, zap.NewNop())
	if got := tree.Stat("/music/rock/a.mp3"); got != 1 {
		t.Fatalf("Stat track = %d", got)
	}
	if got := tree.Stat("/music/rock/missing.mp3"); got != -1 {
		t.Fatalf("Stat missing = %d", got)
	}
	if got := tree.Stat("/elsewhere/a.mp3"); got != -1 {
		t.Fatalf("Stat outside topdirs = %d", got)
	}
}

func TestParseSelectorErrors(t *testing.T) {
	tree := Build(testDocs(), []string{"/music"}, zap.NewNop())
	for _, tail := range [][]string{{"d999"}, {"i999"}, {"x1"}, {"d"}, {"d1", "d2"}, {"dx"}} {
		if _, err := tree.ParseSelector(tail); err == nil {
			t.Errorf("tail %v should fail", tail)
		}
	}
}

// findDir locates a directory node by its reconstructed path.
func findDir(t *testing.T, tree *Tree, path string) int {
	t.Helper()
	for i := 1; i < tree.NodeCount(); i++ {
		if tree.PathOf(i) == path {
			return i
		}
	}
	t.Fatalf("directory %q not in tree", path)
	return -1
}
