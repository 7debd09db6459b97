package cd

// Entry types. Containers sort before items in every listing.
const (
	TypeContainer = "ct"
	TypeItem      = "it"
)

// UPnP classes used in entry rows.
const (
	ClassContainer = "object.container"
	ClassAlbum     = "object.container.album.musicAlbum"
	ClassPlaylist  = "object.container.playlistContainer"
	ClassTrack     = "object.item.audioItem.musicTrack"
)

// Entry is one browse/search result row. The JSON keys follow the
// ContentDirectory DIDL property names the parent media-server process
// expects; absent optional fields are omitted from the wire form.
type Entry struct {
	ID          string `json:"id"`
	ParentID    string `json:"pid"`
	Type        string `json:"tp"`
	Title       string `json:"tt"`
	Class       string `json:"upnp:class,omitempty"`
	Artist      string `json:"upnp:artist,omitempty"`
	Album       string `json:"upnp:album,omitempty"`
	TrackNumber string `json:"upnp:originalTrackNumber,omitempty"`
	Genre       string `json:"upnp:genre,omitempty"`
	Date        string `json:"dc:date,omitempty"`
	URI         string `json:"uri,omitempty"`
	ArtURI      string `json:"upnp:albumArtURI,omitempty"`
	MIME        string `json:"res:mime,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Searchable  string `json:"searchable,omitempty"`
}

// IsContainer reports whether the entry is a container row.
func (e Entry) IsContainer() bool { return e.Type == TypeContainer }
