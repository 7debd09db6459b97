// Package tags maintains the faceted view: an in-memory relational
// projection of the generation's tracks, albums and tag dimensions,
// with disc-to-album merging and drill-down browsing.
package tags

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/engine"
)

// Dimension is one drill-down facet. Name is the presentation title,
// Table the aux table (and join column base) in the projection schema.
type Dimension struct {
	Name  string
	Table string
}

// dimensions lists the facet tables, in presentation order.
var dimensions = []Dimension{
	{"Artist", "artist"},
	{"Comment", "comment"},
	{"Composer", "composer"},
	{"Conductor", "conductor"},
	{"Date", "date"},
	{"Genre", "genre"},
	{"Group", "contentgroup"},
	{"Orchestra", "orchestra"},
}

// DimensionByName resolves a presentation name, ok=false when unknown.
func DimensionByName(name string) (Dimension, bool) {
	for _, d := range dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

func clid(table string) string { return table + "_id" }

// Config carries the tag-projection build policies.
type Config struct {
	// AllowDiscGaps accepts non-contiguous disc number runs when
	// merging per-disc albums. Off, a gap abandons the merge and the
	// candidates surface as standalone albums.
	AllowDiscGaps bool
}

// Projection is the built facet view for one generation. Immutable
// once Build returns; queries are read-only.
type Projection struct {
	log  *zap.Logger
	cfg  Config
	db   *sql.DB
	docs []engine.Doc
}

// Disc markers in album titles: "Live [disc 2]", "Live (disc 2)",
// "Live, disc 2". The folder form covers "cd2" / "disc 02" basenames.
var (
	titleDiscRE  = regexp.MustCompile(`(?i)^(.+?)\s*(?:[\[(]\s*disc\s*(\d+)\s*[\])]|,\s*disc\s*(\d+))\s*$`)
	folderDiscRE = regexp.MustCompile(`(?i)^(?:cd|disc)[\s_-]*0*(\d+)$`)
)

type albumKey struct {
	title  string
	folder string
	disc   int
}

type albumState struct {
	id       int64
	explicit bool  // album-artist set by a track
	uniform  bool  // all track artists seen so far agree
	artistID int64 // candidate common artist, 0 = none yet
}

// Build creates the projection database and fills it from the docs.
// Directories and playlists are excluded; only audio tracks project.
func Build(docs []engine.Doc, cfg Config, log *zap.Logger) (*Projection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open projection db: %w", err)
	}
	// database/sql would open a second connection, and a second
	// :memory: connection is a different database.
	db.SetMaxOpenConns(1)

	p := &Projection{log: log, cfg: cfg, db: db, docs: docs}
	if err := p.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	start := time.Now()
	b := &builder{p: p, aux: map[string]map[string]int64{}, albums: map[albumKey]*albumState{}}
	total := 0
	for docIdx := range docs {
		doc := &docs[docIdx]
		if !doc.IsTrack() {
			continue
		}
		if err := b.addTrack(docIdx, doc); err != nil {
			db.Close()
			return nil, err
		}
		total++
	}
	if err := b.fillUniformArtists(); err != nil {
		db.Close()
		return nil, err
	}
	if err := p.mergeDiscAlbums(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("tag projection built",
		zap.Int("tracks", total), zap.Duration("elapsed", time.Since(start)))
	return p, nil
}

// Close releases the projection database.
func (p *Projection) Close() error { return p.db.Close() }

func (p *Projection) createSchema() error {
	stmts := []string{
		`CREATE TABLE albums (album_id INTEGER PRIMARY KEY, artist_id INT,
		 albtitle TEXT, albfolder TEXT, albdate TEXT, albarturi TEXT,
		 albalb INT, albtdisc INT)`,
	}
	trackCols := "docidx INT, album_id INT, trackno INT, title TEXT"
	for _, d := range dimensions {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE %s (%s INTEGER PRIMARY KEY, value TEXT)", d.Table, clid(d.Table)))
		trackCols += ", " + clid(d.Table) + " INT"
	}
	stmts = append(stmts, "CREATE TABLE tracks ("+trackCols+")")
	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

type builder struct {
	p      *Projection
	aux    map[string]map[string]int64
	albums map[albumKey]*albumState
}

// auxID inserts a dimension value if absent and returns its id.
// Idempotent: repeated values return the existing row.
func (b *builder) auxID(table, value string) (int64, error) {
	vals := b.aux[table]
	if vals == nil {
		vals = map[string]int64{}
		b.aux[table] = vals
	}
	if id, ok := vals[value]; ok {
		return id, nil
	}
	res, err := b.p.db.Exec(
		fmt.Sprintf("INSERT INTO %s(value) VALUES(?)", table), value)
	if err != nil {
		return 0, fmt.Errorf("insert %s value: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	vals[value] = id
	return id, nil
}

// dimValue extracts the doc field backing a dimension. The artist
// dimension prefers the album artist when present.
func dimValue(doc *engine.Doc, table string) string {
	switch table {
	case "artist":
		if doc.AlbumArtist != "" {
			return doc.AlbumArtist
		}
		return doc.Artist
	case "comment":
		return doc.Comment
	case "composer":
		return doc.Composer
	case "conductor":
		return doc.Conductor
	case "date":
		return doc.Date
	case "genre":
		return doc.Genre
	case "contentgroup":
		return doc.ContentGroup
	case "orchestra":
		return doc.Orchestra
	}
	return ""
}

// discNumber detects the disc for an album: the explicit tag first,
// then a title suffix marker (returning the trimmed title), then a
// cdNN/discNN folder basename.
func discNumber(doc *engine.Doc, title, folder string) (string, int) {
	if doc.DiscNumber > 0 {
		return title, doc.DiscNumber
	}
	if m := titleDiscRE.FindStringSubmatch(title); m != nil {
		num := m[2]
		if num == "" {
			num = m[3]
		}
		var n int
		fmt.Sscanf(num, "%d", &n)
		if n > 0 {
			return strings.TrimSpace(m[1]), n
		}
	}
	if m := folderDiscRE.FindStringSubmatch(filepath.Base(folder)); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n > 0 {
			return title, n
		}
	}
	return title, 0
}

func (b *builder) addTrack(docIdx int, doc *engine.Doc) error {
	folder := doc.Folder()
	title := doc.Album
	if title == "" {
		// Untitled albums group by their folder name.
		title = filepath.Base(folder)
	}
	title, disc := discNumber(doc, title, folder)

	alb, err := b.album(doc, title, folder, disc)
	if err != nil {
		return err
	}

	cols := "docidx, album_id, trackno, title"
	args := []any{docIdx, alb.id, doc.TrackNumber, doc.Title}
	ph := "?, ?, ?, ?"
	var trackArtist int64
	for _, d := range dimensions {
		v := dimValue(doc, d.Table)
		if v == "" {
			continue
		}
		id, err := b.auxID(d.Table, v)
		if err != nil {
			return err
		}
		if d.Table == "artist" {
			trackArtist = id
		}
		cols += ", " + clid(d.Table)
		args = append(args, id)
		ph += ", ?"
	}
	if _, err := b.p.db.Exec(
		"INSERT INTO tracks("+cols+") VALUES("+ph+")", args...); err != nil {
		return fmt.Errorf("insert track: %w", err)
	}

	// Common-artist tracking: once two tracks disagree the album's
	// artist is not inferable, permanently.
	if !alb.explicit && alb.uniform {
		switch {
		case trackArtist == 0:
			alb.uniform = false
		case alb.artistID == 0:
			alb.artistID = trackArtist
		case alb.artistID != trackArtist:
			alb.uniform = false
		}
	}
	return nil
}

// album resolves or creates the album row for a track.
func (b *builder) album(doc *engine.Doc, title, folder string, disc int) (*albumState, error) {
	key := albumKey{title: title, folder: folder, disc: disc}
	if alb, ok := b.albums[key]; ok {
		if !alb.explicit && doc.AlbumArtist != "" {
			id, err := b.auxID("artist", doc.AlbumArtist)
			if err != nil {
				return nil, err
			}
			if _, err := b.p.db.Exec(
				"UPDATE albums SET artist_id = ? WHERE album_id = ?", id, alb.id); err != nil {
				return nil, err
			}
			alb.explicit = true
			alb.artistID = id
		}
		return alb, nil
	}

	alb := &albumState{uniform: true}
	var artistID any
	if doc.AlbumArtist != "" {
		id, err := b.auxID("artist", doc.AlbumArtist)
		if err != nil {
			return nil, err
		}
		artistID = id
		alb.explicit = true
		alb.artistID = id
	}
	var discCol any
	if disc > 0 {
		discCol = disc
	}
	res, err := b.p.db.Exec(
		`INSERT INTO albums(albtitle, albfolder, artist_id, albdate, albarturi, albtdisc)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		title, folder, artistID, doc.Date, doc.ArtURI, discCol)
	if err != nil {
		return nil, fmt.Errorf("insert album: %w", err)
	}
	alb.id, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	b.albums[key] = alb
	return alb, nil
}

// fillUniformArtists sets the artist on albums that never saw an
// explicit album artist but whose tracks all agreed on one.
func (b *builder) fillUniformArtists() error {
	for _, alb := range b.albums {
		if alb.explicit || !alb.uniform || alb.artistID == 0 {
			continue
		}
		if _, err := b.p.db.Exec(
			"UPDATE albums SET artist_id = ? WHERE album_id = ?", alb.artistID, alb.id); err != nil {
			return err
		}
	}
	return nil
}

type discCand struct {
	id     int64
	disc   int
	folder string
	artist sql.NullInt64
	title  string
	date   sql.NullString
	arturi sql.NullString
}

// mergeDiscAlbums coalesces per-disc albums that share a title, artist
// and sibling folders into one logical parent album. A failed
// contiguity check clears the disc numbers instead, so the candidates
// surface as standalone albums rather than vanishing.
func (p *Projection) mergeDiscAlbums() error {
	rows, err := p.db.Query(
		`SELECT album_id, albtdisc, albfolder, artist_id, albtitle, albdate, albarturi
		 FROM albums WHERE albtdisc IS NOT NULL AND albalb IS NULL`)
	if err != nil {
		return err
	}
	groups := map[string][]discCand{}
	for rows.Next() {
		var c discCand
		if err := rows.Scan(&c.id, &c.disc, &c.folder, &c.artist, &c.title, &c.date, &c.arturi); err != nil {
			rows.Close()
			return err
		}
		// Same-or-sibling folders share a parent directory.
		gk := fmt.Sprintf("%s\x00%d\x00%s", c.title, c.artist.Int64, filepath.Dir(c.folder))
		groups[gk] = append(groups[gk], c)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, cands := range groups {
		if err := p.mergeGroup(cands); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projection) mergeGroup(cands []discCand) error {
	if len(cands) == 1 {
		_, err := p.db.Exec(
			"UPDATE albums SET albtdisc = NULL WHERE album_id = ?", cands[0].id)
		return err
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].disc < cands[j].disc })

	ok := p.cfg.AllowDiscGaps || cands[0].disc == 1
	for i := 1; ok && i < len(cands); i++ {
		switch {
		case cands[i].disc == cands[i-1].disc:
			ok = false
		case cands[i].disc != cands[i-1].disc+1 && !p.cfg.AllowDiscGaps:
			ok = false
		}
	}
	if !ok {
		p.log.Warn("non-sequential disc numbers, not merging",
			zap.String("album", cands[0].title))
		for _, c := range cands {
			if _, err := p.db.Exec(
				"UPDATE albums SET albtdisc = NULL WHERE album_id = ?", c.id); err != nil {
				return err
			}
		}
		return nil
	}

	first := cands[0]
	res, err := p.db.Exec(
		`INSERT INTO albums(albtitle, albfolder, artist_id, albdate, albarturi)
		 VALUES(?, ?, ?, ?, ?)`,
		first.title, first.folder, first.artist, first.date, first.arturi)
	if err != nil {
		return err
	}
	parent, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, c := range cands {
		if _, err := p.db.Exec(
			"UPDATE albums SET albalb = ? WHERE album_id = ?", parent, c.id); err != nil {
			return err
		}
	}
	return nil
}
