package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeTree(t *testing.T, root string, names []string) {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func runIndexPass(t *testing.T, eng *Engine, topdirs, excludes []string) {
	t.Helper()
	ix := NewIndexer(eng, topdirs, excludes, zap.NewNop())
	if err := ix.Start(); err != nil {
		t.Fatalf("start indexer: %v", err)
	}
	deadline := time.Now().Add(15 * time.Second)
	for !ix.Done() {
		if time.Now().After(deadline) {
			t.Fatal("index pass never finished")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := ix.Err(); err != nil {
		t.Fatalf("index pass: %v", err)
	}
}

func TestIndexAndFetch(t *testing.T) {
	root := t.TempDir()
	music := filepath.Join(root, "music")
	writeTree(t, music, []string{
		"rock/one.mp3",
		"rock/two.flac",
		"rock/list.m3u",
		"rock/notes.txt",
	})

	eng, err := Open(filepath.Join(root, "index.bleve"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	runIndexPass(t, eng, []string{music}, nil)

	n, err := eng.DocCount()
	if err != nil {
		t.Fatalf("doc count: %v", err)
	}
	// rock dir, two tracks and the playlist; notes.txt has no media type.
	if n != 4 {
		t.Fatalf("doc count = %d", n)
	}

	docs, err := eng.AllDocs(context.Background())
	if err != nil {
		t.Fatalf("all docs: %v", err)
	}
	if len(docs) != 4 {
		t.Fatalf("all docs = %d", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i-1].Path > docs[i].Path {
			t.Fatalf("docs not path-ordered: %q > %q", docs[i-1].Path, docs[i].Path)
		}
	}

	var tracks, dirs, playlists int
	for i := range docs {
		switch {
		case docs[i].IsDir():
			dirs++
		case docs[i].IsPlaylist():
			playlists++
		case docs[i].IsTrack():
			tracks++
		}
	}
	if tracks != 2 || dirs != 1 || playlists != 1 {
		t.Fatalf("kinds = %d tracks, %d dirs, %d playlists", tracks, dirs, playlists)
	}
}

func TestIndexRemovesStale(t *testing.T) {
	root := t.TempDir()
	music := filepath.Join(root, "music")
	writeTree(t, music, []string{"a.mp3", "b.mp3"})

	eng, err := Open(filepath.Join(root, "index.bleve"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	runIndexPass(t, eng, []string{music}, nil)
	if n, _ := eng.DocCount(); n != 2 {
		t.Fatalf("initial doc count = %d", n)
	}

	if err := os.Remove(filepath.Join(music, "b.mp3")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	runIndexPass(t, eng, []string{music}, nil)
	if n, _ := eng.DocCount(); n != 1 {
		t.Fatalf("doc count after removal = %d", n)
	}
}

func TestIndexExcludes(t *testing.T) {
	root := t.TempDir()
	music := filepath.Join(root, "music")
	writeTree(t, music, []string{
		"keep/a.mp3",
		".hidden/b.mp3",
		"keep/skip.mp3",
	})

	eng, err := Open(filepath.Join(root, "index.bleve"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	runIndexPass(t, eng, []string{music}, []string{".*", "skip.mp3"})

	docs, err := eng.AllDocs(context.Background())
	if err != nil {
		t.Fatalf("all docs: %v", err)
	}
	for i := range docs {
		if filepath.Base(docs[i].Path) == "b.mp3" || filepath.Base(docs[i].Path) == "skip.mp3" {
			t.Fatalf("excluded doc indexed: %s", docs[i].Path)
		}
	}
	// keep dir plus a.mp3 only.
	if len(docs) != 2 {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestQueryMatchAllAndDirFilter(t *testing.T) {
	root := t.TempDir()
	music := filepath.Join(root, "music")
	writeTree(t, music, []string{"rock/a.mp3", "jazz/b.mp3"})

	eng, err := Open(filepath.Join(root, "index.bleve"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()
	runIndexPass(t, eng, []string{music}, nil)

	all, err := eng.Query(context.Background(), "*")
	if err != nil {
		t.Fatalf("match all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("match all = %d docs", len(all))
	}

	scoped, err := eng.Query(context.Background(),
		`+dir:"`+filepath.Join(music, "rock")+`"`)
	if err != nil {
		t.Fatalf("scoped query: %v", err)
	}
	if len(scoped) != 1 || filepath.Base(scoped[0].Path) != "a.mp3" {
		t.Fatalf("scoped query = %+v", scoped)
	}
}

func TestQueryDirTreeCoversSubtree(t *testing.T) {
	root := t.TempDir()
	music := filepath.Join(root, "music")
	writeTree(t, music, []string{"rock/a.mp3", "rock/live/c.mp3", "jazz/b.mp3"})

	eng, err := Open(filepath.Join(root, "index.bleve"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()
	runIndexPass(t, eng, []string{music}, nil)

	// dir matches the immediate parent only; dirtree reaches nested
	// folders too.
	hits, err := eng.Query(context.Background(),
		`+dirtree:"`+filepath.Join(music, "rock")+`/"`)
	if err != nil {
		t.Fatalf("dirtree query: %v", err)
	}
	// a.mp3, the live dir and c.mp3.
	if len(hits) != 3 {
		t.Fatalf("dirtree query = %+v", hits)
	}
	for i := range hits {
		if filepath.Base(hits[i].Path) == "b.mp3" {
			t.Fatalf("dirtree scope leaked outside rock: %+v", hits)
		}
	}

	all, err := eng.Query(context.Background(), `+dirtree:"`+music+`/"`)
	if err != nil {
		t.Fatalf("topdir dirtree query: %v", err)
	}
	// Every doc below the top directory, the nested ones included.
	if len(all) != 6 {
		t.Fatalf("topdir dirtree query = %d docs", len(all))
	}
}

func TestMIMEForPath(t *testing.T) {
	cases := map[string]string{
		"/m/a.mp3":  "audio/mpeg",
		"/m/a.FLAC": "audio/flac",
		"/m/a.m3u8": MIMEPlaylist,
		"/m/a.txt":  "",
		"/m/a":      "",
	}
	for path, want := range cases {
		if got := MIMEForPath(path); got != want {
			t.Errorf("MIMEForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDocHelpers(t *testing.T) {
	dir := Doc{Path: "/m/rock", MIME: MIMEDirectory}
	if !dir.IsDir() || !dir.IsAudio() || dir.IsTrack() {
		t.Fatalf("dir kind checks: %+v", dir)
	}
	if dir.Folder() != "/m/rock" {
		t.Fatalf("dir folder = %q", dir.Folder())
	}

	trk := Doc{Path: "/m/rock/a.mp3", Filename: "a.mp3", MIME: "audio/mpeg"}
	if !trk.IsTrack() || trk.Folder() != "/m/rock" {
		t.Fatalf("track checks: %+v", trk)
	}
	if trk.DisplayTitle() != "a.mp3" {
		t.Fatalf("display title = %q", trk.DisplayTitle())
	}
	trk.Title = "A"
	if trk.DisplayTitle() != "A" {
		t.Fatalf("display title = %q", trk.DisplayTitle())
	}
}
