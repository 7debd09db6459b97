package untagged

import (
	"testing"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/pkg/cd"
)

var testHost = entries.Host{HostPort: "127.0.0.1:9000", PathPrefix: "/uprcl"}

func TestBuildFiltersAndSorts(t *testing.T) {
	docs := []engine.Doc{
		{Path: "/m/zz.mp3", Filename: "zz.mp3", MIME: "audio/mpeg"},
		{Path: "/m/tagged.mp3", Filename: "tagged.mp3", MIME: "audio/mpeg", Title: "Tagged"},
		{Path: "/m/AA.mp3", Filename: "AA.mp3", MIME: "audio/mpeg"},
		{Path: "/m", MIME: engine.MIMEDirectory},
		{Path: "/m/list.m3u", Filename: "list.m3u", MIME: engine.MIMEPlaylist},
	}
	v := Build(docs)
	if v.Len() != 2 {
		t.Fatalf("expected 2 untagged tracks, got %d", v.Len())
	}

	list, err := v.Browse(Selector{Idx: -1}, testHost)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].Title != "AA.mp3" || list[1].Title != "zz.mp3" {
		t.Fatalf("case-insensitive order broken: %+v", list)
	}
	if list[0].ID != cd.UntaggedID(1) || list[0].ParentID != cd.UntaggedID(0) {
		t.Fatalf("unexpected ids: %+v", list[0])
	}
}

func TestBrowseSingleEntry(t *testing.T) {
	docs := []engine.Doc{
		{Path: "/m/a.mp3", Filename: "a.mp3", MIME: "audio/mpeg"},
	}
	v := Build(docs)

	list, err := v.Browse(Selector{Idx: 1}, testHost)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(list) != 1 || list[0].Title != "a.mp3" {
		t.Fatalf("unexpected meta entry: %+v", list)
	}

	if _, err := v.Browse(Selector{Idx: 2}, testHost); err == nil {
		t.Fatal("out-of-range index should fail")
	}
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector(nil)
	if err != nil || sel.Idx != -1 {
		t.Fatalf("empty tail should select the view, got %+v, %v", sel, err)
	}

	sel, err = ParseSelector([]string{"u3"})
	if err != nil || sel.Idx != 3 {
		t.Fatalf("u3 should parse, got %+v, %v", sel, err)
	}

	for _, tail := range [][]string{{"x3"}, {"u0"}, {"u-1"}, {"u3", "u4"}, {"ux"}} {
		if _, err := ParseSelector(tail); err == nil {
			t.Errorf("tail %v should fail", tail)
		}
	}
}
