package tags

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// step is one drill-down stage: a dimension, optionally narrowed to a
// chosen value.
type step struct {
	dim   Dimension
	value int64
	has   bool
}

// selector is the decoded tags-tree objid tail.
type selector struct {
	steps   []step
	term    string // "", "albums" or "items"
	albumID int64  // -1 when no album chosen
	showCA  bool   // complete-album escape under a filtered album
	scope   string // folder path with trailing slash, "" = whole catalog
}

// Scope conditions restrict a query to albums whose folder sits under
// a scope path (trailing slash); the appended slash keeps /music from
// also matching /musicology.
const (
	albumScopeCond = "albfolder || '/' LIKE ? || '%'"
	trackScopeCond = "tracks.album_id IN (SELECT album_id FROM albums WHERE " + albumScopeCond + ")"
)

func parseSelector(tail []string) (selector, error) {
	sel := selector{albumID: -1}
	i := 0
	for i < len(tail) {
		tok := tail[i]
		switch {
		case strings.HasPrefix(tok, "="):
			if n := len(sel.steps); n > 0 && !sel.steps[n-1].has {
				return sel, fmt.Errorf("%w: dimension without value before %q", cd.ErrBadObjectID, tok)
			}
			dim, ok := DimensionByName(tok[1:])
			if !ok {
				return sel, fmt.Errorf("%w: unknown dimension %q", cd.ErrBadObjectID, tok)
			}
			st := step{dim: dim}
			i++
			if i < len(tail) && !strings.HasPrefix(tail[i], "=") &&
				tail[i] != "albums" && tail[i] != "items" {
				v, err := strconv.ParseInt(tail[i], 10, 64)
				if err != nil {
					return sel, fmt.Errorf("%w: value %q", cd.ErrBadObjectID, tail[i])
				}
				st.value, st.has = v, true
				i++
			}
			sel.steps = append(sel.steps, st)
		case tok == "albums":
			if n := len(sel.steps); n > 0 && !sel.steps[n-1].has {
				return sel, fmt.Errorf("%w: dimension without value before albums", cd.ErrBadObjectID)
			}
			sel.term = "albums"
			i++
			if i < len(tail) {
				v, err := strconv.ParseInt(tail[i], 10, 64)
				if err != nil {
					return sel, fmt.Errorf("%w: album id %q", cd.ErrBadObjectID, tail[i])
				}
				sel.albumID = v
				i++
			}
			if i < len(tail) && tail[i] == "showca" {
				sel.showCA = true
				i++
			}
			if i != len(tail) {
				return sel, fmt.Errorf("%w: trailing selector after albums", cd.ErrBadObjectID)
			}
		case tok == "items":
			if n := len(sel.steps); n > 0 && !sel.steps[n-1].has {
				return sel, fmt.Errorf("%w: dimension without value before items", cd.ErrBadObjectID)
			}
			sel.term = "items"
			i++
			// An items listing that folded to a single album hands out
			// ids of the form <items-id>$<albid>.
			if i < len(tail) {
				v, err := strconv.ParseInt(tail[i], 10, 64)
				if err != nil {
					return sel, fmt.Errorf("%w: album id %q", cd.ErrBadObjectID, tail[i])
				}
				sel.albumID = v
				i++
			}
			if i != len(tail) {
				return sel, fmt.Errorf("%w: trailing selector after items", cd.ErrBadObjectID)
			}
		default:
			return sel, fmt.Errorf("%w: selector token %q", cd.ErrBadObjectID, tok)
		}
	}
	return sel, nil
}

// where builds the tracks filter for the chosen dimension values and
// the folder scope, when set.
func (sel selector) where() (string, []any) {
	var conds []string
	var args []any
	if sel.scope != "" {
		conds = append(conds, trackScopeCond)
		args = append(args, sel.scope)
	}
	for _, st := range sel.steps {
		if st.has {
			conds = append(conds, "tracks."+clid(st.dim.Table)+" = ?")
			args = append(args, st.value)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return strings.Join(conds, " AND "), args
}

// hasDimFilter reports whether any dimension value has been chosen.
func (sel selector) hasDimFilter() bool {
	for _, st := range sel.steps {
		if st.has {
			return true
		}
	}
	return false
}

// RootEntries lists the tag-view top level under pid: the albums and
// items shortcuts plus each dimension with more than one value. A
// non-empty scope restricts counts to albums below that folder path.
func (p *Projection) RootEntries(pid, scope string) ([]cd.Entry, error) {
	albWhere, trkWhere := "albtdisc IS NULL", ""
	var args []any
	if scope != "" {
		albWhere += " AND " + albumScopeCond
		trkWhere = " WHERE " + trackScopeCond
		args = []any{scope}
	}
	// Scoped roots live under their folder's id, not the global tags id,
	// so drilling down keeps the scope.
	childID := func(name string) string {
		if scope == "" {
			return cd.TagsID(name)
		}
		return pid + "$" + name
	}
	var out []cd.Entry

	var nalbs int
	if err := p.db.QueryRow(
		"SELECT COUNT(*) FROM albums WHERE "+albWhere, args...).Scan(&nalbs); err != nil {
		return nil, err
	}
	e := entries.Container(childID("albums"), pid, fmt.Sprintf("%d albums", nalbs))
	out = append(out, e)

	var nitems int
	if err := p.db.QueryRow(
		"SELECT COUNT(*) FROM tracks"+trkWhere, args...).Scan(&nitems); err != nil {
		return nil, err
	}
	out = append(out, entries.Container(childID("items"), pid, fmt.Sprintf("%d items", nitems)))

	for _, d := range dimensions {
		q := "SELECT COUNT(DISTINCT tracks." + clid(d.Table) + ") FROM tracks" + trkWhere
		var n int
		if err := p.db.QueryRow(q, args...).Scan(&n); err != nil {
			return nil, err
		}
		if n > 1 {
			out = append(out, entries.Container(childID("="+d.Name), pid, d.Name))
		}
	}
	return out, nil
}

// Browse resolves a tags-tree objid tail to its children. pid is the
// objid being browsed, reused as the parent id of the results. A
// non-empty scope (folder path with trailing slash) restricts the
// listing to albums below that folder.
func (p *Projection) Browse(pid string, tail []string, scope string, host entries.Host) ([]cd.Entry, error) {
	sel, err := parseSelector(tail)
	if err != nil {
		return nil, err
	}
	sel.scope = scope
	if len(sel.steps) == 0 && sel.term == "" {
		return nil, fmt.Errorf("%w: empty tags selector", cd.ErrBadObjectID)
	}
	switch sel.term {
	case "albums":
		return p.browseAlbums(pid, sel, host)
	case "items":
		return p.browseItems(pid, sel, host)
	}
	last := sel.steps[len(sel.steps)-1]
	if !last.has {
		return p.valueEntries(pid, sel, last.dim)
	}
	return p.subtreeEntries(pid, sel, host)
}

func (p *Projection) browseAlbums(pid string, sel selector, host entries.Host) ([]cd.Entry, error) {
	where, args := sel.where()
	if sel.albumID < 0 {
		albids, err := p.selectionAlbums(where, args)
		if err != nil {
			return nil, err
		}
		if where == "" {
			albids = nil // unfiltered: list every parent album
		}
		return p.albumEntries(pid, albids)
	}
	if sel.showCA || !sel.hasDimFilter() {
		return p.albumTracks(pid, sel.albumID, host)
	}

	// Filtered album: list only the selection's tracks, with an
	// escape to the complete album when that hides some.
	albids, err := p.albumWithDiscs(sel.albumID)
	if err != nil {
		return nil, err
	}
	inClause, inArgs := sqlIn("tracks.album_id", albids)
	q := "SELECT docidx FROM tracks WHERE " + inClause + " AND " + where
	list, err := p.trackEntries(pid, q, append(inArgs, args...), host)
	if err != nil {
		return nil, err
	}
	var total int
	if err := p.db.QueryRow(
		"SELECT COUNT(*) FROM tracks WHERE "+inClause, inArgs...).Scan(&total); err != nil {
		return nil, err
	}
	if total > len(list) {
		ca := entries.Container(pid+"$showca", pid, ">> Complete Album")
		list = append([]cd.Entry{ca}, list...)
	}
	return list, nil
}

func (p *Projection) browseItems(pid string, sel selector, host entries.Host) ([]cd.Entry, error) {
	if sel.albumID >= 0 {
		return p.albumTracks(pid, sel.albumID, host)
	}
	where, args := sel.where()
	if where == "" {
		return p.trackEntries(pid, "SELECT docidx FROM tracks", nil, host)
	}
	// A selection covering exactly one full album folds into that
	// album entry, keeping the track ordering an album listing gives.
	albids, err := p.selectionAlbums(where, args)
	if err != nil {
		return nil, err
	}
	if len(albids) == 1 {
		discs, err := p.albumWithDiscs(albids[0])
		if err != nil {
			return nil, err
		}
		inClause, inArgs := sqlIn("tracks.album_id", discs)
		var nsel, nalb int
		if err := p.db.QueryRow(
			"SELECT COUNT(*) FROM tracks WHERE "+where, args...).Scan(&nsel); err != nil {
			return nil, err
		}
		if err := p.db.QueryRow(
			"SELECT COUNT(*) FROM tracks WHERE "+inClause, inArgs...).Scan(&nalb); err != nil {
			return nil, err
		}
		if nsel == nalb {
			return p.albumEntries(pid, albids)
		}
	}
	return p.trackEntries(pid, "SELECT docidx FROM tracks WHERE "+where, args, host)
}

// valueEntries lists the distinct values of dim within the selection.
func (p *Projection) valueEntries(pid string, sel selector, dim Dimension) ([]cd.Entry, error) {
	where, args := sel.where()
	col := clid(dim.Table)
	q := fmt.Sprintf(
		"SELECT tracks.%s, %s.value FROM tracks, %s WHERE tracks.%s = %s.%s",
		col, dim.Table, dim.Table, col, dim.Table, col)
	if where != "" {
		q += " AND " + where
	}
	q += fmt.Sprintf(" GROUP BY tracks.%s ORDER BY %s.value", col, dim.Table)
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cd.Entry
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		out = append(out, entries.Container(
			pid+"$"+strconv.FormatInt(id, 10), pid, value))
	}
	return out, rows.Err()
}

// subtreeEntries lists what a fully chosen selection contains: further
// discriminating dimensions plus albums/items shortcuts, or the tracks
// directly when nothing remains to narrow.
func (p *Projection) subtreeEntries(pid string, sel selector, host entries.Host) ([]cd.Entry, error) {
	where, args := sel.where()
	albids, err := p.selectionAlbums(where, args)
	if err != nil {
		return nil, err
	}
	chosen := map[string]bool{}
	for _, st := range sel.steps {
		chosen[st.dim.Table] = true
	}
	var subdims []Dimension
	for _, d := range dimensions {
		if chosen[d.Table] {
			continue
		}
		var n int
		q := "SELECT COUNT(DISTINCT tracks." + clid(d.Table) + ") FROM tracks WHERE " + where
		if err := p.db.QueryRow(q, args...).Scan(&n); err != nil {
			return nil, err
		}
		if n > 1 {
			subdims = append(subdims, d)
		}
	}
	if len(subdims) == 0 && len(albids) <= 1 {
		return p.trackEntries(pid, "SELECT docidx FROM tracks WHERE "+where, args, host)
	}

	var out []cd.Entry
	if len(albids) > 1 {
		out = append(out, entries.Container(
			pid+"$albums", pid, fmt.Sprintf("%d albums", len(albids))))
	}
	var nitems int
	if err := p.db.QueryRow(
		"SELECT COUNT(*) FROM tracks WHERE "+where, args...).Scan(&nitems); err != nil {
		return nil, err
	}
	out = append(out, entries.Container(
		pid+"$items", pid, fmt.Sprintf("%d items", nitems)))
	for _, d := range subdims {
		out = append(out, entries.Container(pid+"$="+d.Name, pid, d.Name))
	}
	return out, nil
}

// selectionAlbums returns the merged-parent album ids touched by a
// tracks selection, one id per logical album.
func (p *Projection) selectionAlbums(where string, args []any) ([]int64, error) {
	q := "SELECT DISTINCT album_id FROM tracks"
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	var raw []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	inClause, inArgs := sqlIn("album_id", raw)
	rows, err = p.db.Query(
		"SELECT album_id, albalb FROM albums WHERE "+inClause, inArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[int64]bool{}
	var out []int64
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		if parent.Valid {
			id = parent.Int64
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

// albumWithDiscs expands a logical album to its disc album ids, in
// disc order. Unmerged albums expand to themselves.
func (p *Projection) albumWithDiscs(albid int64) ([]int64, error) {
	rows, err := p.db.Query(
		"SELECT album_id FROM albums WHERE albalb = ? ORDER BY albtdisc", albid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out = []int64{albid}
	}
	return out, nil
}

// albumEntries lists albums as containers, sorted by title. A nil
// albids lists every parent album.
func (p *Projection) albumEntries(pid string, albids []int64) ([]cd.Entry, error) {
	q := `SELECT albums.album_id, albums.albtitle, albums.albdate,
	      albums.albarturi, artist.value
	      FROM albums LEFT JOIN artist ON albums.artist_id = artist.artist_id`
	var args []any
	if albids == nil {
		q += " WHERE albums.albtdisc IS NULL"
	} else {
		inClause, inArgs := sqlIn("albums.album_id", albids)
		q += " WHERE " + inClause
		args = inArgs
	}
	q += " ORDER BY albums.albtitle"
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cd.Entry
	for rows.Next() {
		var id int64
		var title string
		var date, arturi, artist sql.NullString
		if err := rows.Scan(&id, &title, &date, &arturi, &artist); err != nil {
			return nil, err
		}
		e := entries.Container(pid+"$"+strconv.FormatInt(id, 10), pid, title)
		e.Class = cd.ClassAlbum
		e.Artist = artist.String
		e.Date = date.String
		e.ArtURI = arturi.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// albumTracks lists a logical album's tracks: discs concatenated in
// disc order, track numbers renumbered sequentially when merged.
func (p *Projection) albumTracks(pid string, albid int64, host entries.Host) ([]cd.Entry, error) {
	discs, err := p.albumWithDiscs(albid)
	if err != nil {
		return nil, err
	}
	merged := len(discs) > 1
	var out []cd.Entry
	seq := 0
	for _, d := range discs {
		rows, err := p.db.Query(
			"SELECT docidx FROM tracks WHERE album_id = ? ORDER BY trackno", d)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var docIdx int
			if err := rows.Scan(&docIdx); err != nil {
				rows.Close()
				return nil, err
			}
			e, ok := p.entryFor(docIdx, pid, host)
			if !ok {
				continue
			}
			seq++
			if merged {
				e.TrackNumber = strconv.Itoa(seq)
			}
			out = append(out, e)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// trackEntries runs a docidx query and materializes sorted track rows.
func (p *Projection) trackEntries(pid, q string, args []any, host entries.Host) ([]cd.Entry, error) {
	rows, err := p.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cd.Entry
	for rows.Next() {
		var docIdx int
		if err := rows.Scan(&docIdx); err != nil {
			return nil, err
		}
		if e, ok := p.entryFor(docIdx, pid, host); ok {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	entries.Sort(out)
	return out, nil
}

func (p *Projection) entryFor(docIdx int, pid string, host entries.Host) (cd.Entry, bool) {
	if docIdx < 0 || docIdx >= len(p.docs) {
		p.log.Warn("projection references unknown doc", zap.Int("docidx", docIdx))
		return cd.Entry{}, false
	}
	return entries.ForDoc(cd.FolderItemID(docIdx), pid, host, &p.docs[docIdx])
}

// Albums counts the logical (parent or standalone) albums.
func (p *Projection) Albums() int {
	var n int
	p.db.QueryRow("SELECT COUNT(*) FROM albums WHERE albtdisc IS NULL").Scan(&n)
	return n
}

// Tracks counts the projected tracks.
func (p *Projection) Tracks() int {
	var n int
	p.db.QueryRow("SELECT COUNT(*) FROM tracks").Scan(&n)
	return n
}

func sqlIn(col string, ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return col + " IN (" + strings.Join(ph, ",") + ")", args
}
