// Package artwork resolves cover images for tracks: an embedded
// picture when the tags carry one, else a cover/folder image file
// sitting next to the track.
package artwork

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
)

var artStems = []string{"cover", "folder"}
var artExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

type finder struct {
	host  entries.Host
	cache map[string]string // folder -> art path, "" = none
}

// Apply fills ArtURI on every audio doc in place. Folder scans are
// cached, so a thousand-track album stats its directory once.
func Apply(docs []engine.Doc, host entries.Host) {
	f := &finder{host: host, cache: map[string]string{}}
	for i := range docs {
		doc := &docs[i]
		if !doc.IsAudio() || doc.RemoteURL != "" {
			continue
		}
		if doc.EmbeddedArt != "" {
			doc.ArtURI = host.ArtURL(doc.Path, true)
			continue
		}
		if p := f.folderArt(doc.Folder()); p != "" {
			doc.ArtURI = host.ArtURL(p, false)
		}
	}
}

func (f *finder) folderArt(dir string) string {
	if p, ok := f.cache[dir]; ok {
		return p
	}
	found := ""
	if ents, err := os.ReadDir(dir); err == nil {
	scan:
		for _, stem := range artStems {
			for _, ent := range ents {
				if ent.IsDir() {
					continue
				}
				name := strings.ToLower(ent.Name())
				ext := filepath.Ext(name)
				if artExts[ext] && strings.TrimSuffix(name, ext) == stem {
					found = filepath.Join(dir, ent.Name())
					break scan
				}
			}
		}
	}
	f.cache[dir] = found
	return found
}
