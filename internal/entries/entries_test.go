package entries

import (
	"testing"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/pkg/cd"
)

func TestSortContainersFirstThenItems(t *testing.T) {
	list := []cd.Entry{
		{ID: "i2", Type: cd.TypeItem, Album: "B", URI: "http://h/m/x/2.mp3", TrackNumber: "2"},
		{ID: "c2", Type: cd.TypeContainer, Title: "zeta"},
		{ID: "i1", Type: cd.TypeItem, Album: "A", URI: "http://h/m/x/1.mp3", TrackNumber: "9"},
		{ID: "c1", Type: cd.TypeContainer, Title: "Alpha"},
		{ID: "i3", Type: cd.TypeItem, Album: "B", URI: "http://h/m/x/3.mp3", TrackNumber: "1"},
	}
	Sort(list)

	var order []string
	for _, e := range list {
		order = append(order, e.ID)
	}
	want := []string{"c1", "c2", "i1", "i3", "i2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("sort order %v, want %v", order, want)
		}
	}
}

func TestForDocSkipsNonAudio(t *testing.T) {
	h := Host{HostPort: "127.0.0.1:9000", PathPrefix: "/uprcl"}
	doc := engine.Doc{Path: "/m/readme.txt", Filename: "readme.txt"}
	if _, ok := ForDoc("id", "pid", h, &doc); ok {
		t.Fatal("non-audio doc should be skipped")
	}
}

func TestForDocTrack(t *testing.T) {
	h := Host{HostPort: "127.0.0.1:9000", PathPrefix: "/uprcl"}
	doc := engine.Doc{
		Path:        "/m/a track.mp3",
		Filename:    "a track.mp3",
		MIME:        "audio/mpeg",
		Title:       "A Track",
		AlbumArtist: "Band",
		TrackNumber: 4,
		DurationSec: 181,
	}
	e, ok := ForDoc("id", "pid", h, &doc)
	if !ok {
		t.Fatal("track should materialize")
	}
	if e.Type != cd.TypeItem || e.Class != cd.ClassTrack {
		t.Fatalf("unexpected entry shape: %+v", e)
	}
	if e.Artist != "Band" {
		t.Fatalf("artist should fall back to album artist, got %q", e.Artist)
	}
	if e.TrackNumber != "4" || e.Duration != "181" {
		t.Fatalf("numeric fields: %+v", e)
	}
	if e.URI != "http://127.0.0.1:9000/uprcl/m/a%20track.mp3" {
		t.Fatalf("unexpected URI %q", e.URI)
	}
}

func TestForDocRemote(t *testing.T) {
	h := Host{HostPort: "127.0.0.1:9000"}
	doc := engine.Doc{MIME: "audio/mpeg", Title: "Stream", RemoteURL: "http://radio.example/s"}
	e, ok := ForDoc("id", "pid", h, &doc)
	if !ok || e.URI != "http://radio.example/s" {
		t.Fatalf("remote doc should keep its URL: %+v", e)
	}
}

func TestPlaceholder(t *testing.T) {
	h := Host{HostPort: "127.0.0.1:9000"}
	e := Placeholder("id", "pid", h)
	if e.Title != "Initializing..." || e.URI != "http://127.0.0.1:9000/waiting" {
		t.Fatalf("unexpected placeholder: %+v", e)
	}
}
