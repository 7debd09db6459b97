// Package entries turns catalog documents into the wire-shaped rows of
// pkg/cd and defines the listing order shared by every tree: containers
// before items, containers by case-insensitive title, items by album,
// then directory, then track number.
package entries

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// Host carries what is needed to build track and art URLs: the media
// HTTP server host:port and the URL path prefix the parent process uses
// to route requests back to this plugin.
type Host struct {
	HostPort   string
	PathPrefix string
}

// TrackURI returns the streamable URL for a doc. Synthetic remote docs
// keep their own absolute URL.
func (h Host) TrackURI(doc *engine.Doc) string {
	if doc.RemoteURL != "" {
		return doc.RemoteURL
	}
	return h.fileURL(doc.Path)
}

// ArtURL builds a cover-art URL for an art file path. With embedded
// set, the path is the audio file itself and the media server extracts
// the picture from its metadata.
func (h Host) ArtURL(artPath string, embedded bool) string {
	u := h.fileURL(artPath)
	if embedded {
		u += "?embed=1"
	}
	return u
}

func (h Host) fileURL(p string) string {
	esc := &url.URL{Path: path.Join(h.PathPrefix, p)}
	return fmt.Sprintf("http://%s%s", h.HostPort, esc.EscapedPath())
}

// Container builds a container row. Callers set optional fields
// (Artist, Date, ArtURI, Class) on the returned value.
func Container(id, pid, title string) cd.Entry {
	return cd.Entry{
		ID:         id,
		ParentID:   pid,
		Type:       cd.TypeContainer,
		Title:      title,
		Class:      cd.ClassContainer,
		Searchable: "1",
	}
}

// ForDoc builds the row for a document. Directories become containers,
// tracks become items; non-audio docs yield ok=false and are skipped.
func ForDoc(id, pid string, h Host, doc *engine.Doc) (cd.Entry, bool) {
	if !doc.IsAudio() && doc.RemoteURL == "" {
		return cd.Entry{}, false
	}
	if doc.IsDir() {
		e := Container(id, pid, doc.DisplayTitle())
		e.ArtURI = doc.ArtURI
		return e, true
	}

	e := cd.Entry{
		ID:       id,
		ParentID: pid,
		Type:     cd.TypeItem,
		Class:    cd.ClassTrack,
		Title:    doc.DisplayTitle(),
		Album:    doc.Album,
		Genre:    doc.Genre,
		Date:     doc.Date,
		MIME:     doc.MIME,
		URI:      h.TrackURI(doc),
		ArtURI:   doc.ArtURI,
	}
	e.Artist = doc.Artist
	if e.Artist == "" {
		e.Artist = doc.AlbumArtist
	}
	if doc.TrackNumber > 0 {
		e.TrackNumber = strconv.Itoa(doc.TrackNumber)
	}
	if doc.DurationSec > 0 {
		e.Duration = strconv.Itoa(doc.DurationSec)
	}
	return e, true
}

// Placeholder is the transient row served while no generation is
// published; replies carrying it are flagged nocache.
func Placeholder(id, pid string, h Host) cd.Entry {
	return cd.Entry{
		ID:       id,
		ParentID: pid,
		Type:     cd.TypeItem,
		Class:    cd.ClassTrack,
		Title:    "Initializing...",
		URI:      fmt.Sprintf("http://%s/waiting", h.HostPort),
		MIME:     "audio/mpeg",
	}
}

// Sort orders a listing in place: containers first in case-insensitive
// title order, then items by (album, directory, track number) with
// missing values sorting low.
func Sort(list []cd.Entry) {
	sort.SliceStable(list, func(i, j int) bool {
		return less(&list[i], &list[j])
	})
}

func less(a, b *cd.Entry) bool {
	if a.IsContainer() != b.IsContainer() {
		return a.IsContainer()
	}
	if a.IsContainer() {
		return strings.ToLower(a.Title) < strings.ToLower(b.Title)
	}
	if a.Album != b.Album {
		return a.Album < b.Album
	}
	da, db := path.Dir(a.URI), path.Dir(b.URI)
	if da != db {
		return da < db
	}
	return trackNo(a.TrackNumber) < trackNo(b.TrackNumber)
}

func trackNo(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
