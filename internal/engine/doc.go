package engine

import (
	"path/filepath"
	"strings"
)

// MIME types with special roles in the catalog trees.
const (
	MIMEDirectory = "inode/directory"
	MIMEPlaylist  = "audio/x-mpegurl"
)

// audioMIME is the set of types surfaced in the browse trees. Anything
// else the indexer happened to pick up stays invisible.
var audioMIME = map[string]bool{
	"audio/mpeg":         true,
	"audio/flac":         true,
	"application/flac":   true,
	"audio/x-flac":       true,
	"application/x-flac": true,
	"application/ogg":    true,
	"audio/ogg":          true,
	"audio/aac":          true,
	"audio/mp4":          true,
	"audio/x-aiff":       true,
	"audio/x-musepack":   true,
	"audio/ape":          true,
	"audio/x-wav":        true,
	"audio/x-wavpack":    true,
	MIMEDirectory:        true,
}

// extMIME maps file extensions to the MIME type recorded at index time.
var extMIME = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "application/ogg",
	".oga":  "application/ogg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".aif":  "audio/x-aiff",
	".aiff": "audio/x-aiff",
	".wav":  "audio/x-wav",
	".wv":   "audio/x-wavpack",
	".mpc":  "audio/x-musepack",
	".ape":  "audio/ape",
	".m3u":  MIMEPlaylist,
	".m3u8": MIMEPlaylist,
}

// Doc is one indexed filesystem object (track, directory or playlist),
// or a synthetic stand-in created while expanding a playlist. The bleve
// field names match the json tags.
type Doc struct {
	Path string `json:"path"`
	Dir  string `json:"dir"`
	// Dirs lists Dir and every ancestor, each with a trailing slash, so
	// an exact dirtree term matches the whole subtree under a folder.
	Dirs         []string `json:"dirtree"`
	Filename     string   `json:"filename"`
	MIME         string   `json:"mtype"`
	Title        string   `json:"title"`
	Artist       string   `json:"artist"`
	Album        string   `json:"album"`
	AlbumArtist  string   `json:"albumartist"`
	TrackNumber  int      `json:"tracknumber"`
	DiscNumber   int      `json:"discnumber"`
	Date         string   `json:"date"`
	Genre        string   `json:"genre"`
	Comment      string   `json:"comment"`
	Composer     string   `json:"composer"`
	Conductor    string   `json:"conductor"`
	Orchestra    string   `json:"orchestra"`
	ContentGroup string   `json:"contentgroup"`
	DurationSec  int      `json:"duration"`
	// EmbeddedArt holds the embedded picture extension ("jpg", "png")
	// when the audio container carries one, else "".
	EmbeddedArt string `json:"embdimg"`
	// RemoteURL is set on synthetic playlist-expansion docs only; such
	// docs have no filesystem backing and never reach the index.
	RemoteURL string `json:"-"`
	// ArtURI is the cover-art URL computed once at generation-build
	// time, not an indexed field.
	ArtURI string `json:"-"`
}

// IsAudio reports whether the doc appears in the browse trees at all.
func (d *Doc) IsAudio() bool { return audioMIME[d.MIME] }

// IsDir reports whether the doc represents a directory.
func (d *Doc) IsDir() bool { return d.MIME == MIMEDirectory }

// IsPlaylist reports whether the doc is an m3u-family playlist file.
func (d *Doc) IsPlaylist() bool { return d.MIME == MIMEPlaylist }

// IsTrack reports whether the doc is a playable audio item.
func (d *Doc) IsTrack() bool {
	return d.IsAudio() && !d.IsDir() && !d.IsPlaylist()
}

// DisplayTitle returns the title, falling back to the file name.
func (d *Doc) DisplayTitle() string {
	if d.Title != "" {
		return d.Title
	}
	if d.Filename != "" {
		return d.Filename
	}
	return filepath.Base(d.Path)
}

// Folder returns the directory owning the doc: the path itself for
// directories, the parent for everything else.
func (d *Doc) Folder() string {
	if d.IsDir() {
		return d.Path
	}
	return filepath.Dir(d.Path)
}

// DirTree expands a directory into itself plus every ancestor, each
// with a trailing slash, the form stored in the dirtree field. The
// filesystem root is left out.
func DirTree(dir string) []string {
	var out []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return out
		}
		out = append(out, dir+"/")
		dir = parent
	}
}

// MIMEForPath infers the indexable MIME type from a path, "" when the
// extension is not a known media type.
func MIMEForPath(path string) string {
	return extMIME[strings.ToLower(filepath.Ext(path))]
}
