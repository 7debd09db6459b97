package cd

// Browse flags, mirroring the ContentDirectory BrowseFlag values.
const (
	FlagChildren = "children"
	FlagMeta     = "meta"
)

// BrowseBody is the payload for catalog.browse.
type BrowseBody struct {
	ObjectID string `json:"objectId"`
	Flag     string `json:"flag,omitempty"`
}

// SearchBody is the payload for catalog.search.
type SearchBody struct {
	ObjectID string `json:"objectId"`
	Criteria string `json:"criteria"`
}

// EntriesReply carries browse/search results.
//
// NoCache is set when the entries are a transient placeholder (index
// rebuild in progress) that the caller must not cache.
type EntriesReply struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
	NoCache bool    `json:"nocache,omitempty"`
}

// ResolveBody is the payload for catalog.resolve.
type ResolveBody struct {
	ObjectID string `json:"objectId"`
}

// ResolveReply returns a directly streamable URI for a leaf item.
type ResolveReply struct {
	ObjectID string `json:"objectId"`
	URI      string `json:"uri"`
	MIME     string `json:"mime,omitempty"`
}

// StatusReply is the reply body for catalog.status.
type StatusReply struct {
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
	Docs       int    `json:"docs"`
	Albums     int    `json:"albums"`
	Tracks     int    `json:"tracks"`
	Playlists  int    `json:"playlists"`
}

// UpdateReply is the reply body for catalog.update.
type UpdateReply struct {
	Started bool   `json:"started"`
	State   string `json:"state"`
}
