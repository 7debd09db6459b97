// Package catalogmod exposes the media catalog over MQTT: browse,
// search, resolve, update and status commands against the current
// generation, with a compressed reply cache in front of browse.
package catalogmod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	freecache "github.com/coocood/freecache"
	paho "github.com/eclipse/paho.mqtt.golang"
	gocache "github.com/eko/gocache/lib/v4/cache"
	libstore "github.com/eko/gocache/lib/v4/store"
	gocachefreecache "github.com/eko/gocache/store/freecache/v4"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/adapters/mqttserver"
	"github.com/tunedeck/catalogd/internal/catalog"
	"github.com/tunedeck/catalogd/internal/engine"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/internal/mediaserver"
	"github.com/tunedeck/catalogd/internal/tags"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// Config configures the catalog module.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string

	TopDirs  []string
	Excludes []string
	IndexDir string

	HTTPListen string
	PathPrefix string
	PathMap    map[string]string

	AllowDiscGaps bool

	CacheSizeMB  int
	CacheTTLSec  int
	CacheEnabled bool
}

// Module ties the coordinator, the media server and the MQTT surface
// together.
type Module struct {
	log      *zap.Logger
	client   *mqttserver.Client
	config   Config
	cmdTopic string

	eng   *engine.Engine
	media *mediaserver.Server
	cat   *catalog.Catalog

	cache    gocache.CacheInterface[[]byte]
	cacheCtx context.Context
	cacheTTL time.Duration
}

// NewModule creates the catalog module. The search index opens (or is
// created) under cfg.IndexDir immediately.
func NewModule(log *zap.Logger, client *mqttserver.Client, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node_id required")
	}
	if len(cfg.TopDirs) == 0 {
		return nil, errors.New("topdirs required")
	}
	if strings.TrimSpace(cfg.IndexDir) == "" {
		return nil, errors.New("index_dir required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = cd.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Media Catalog"
	}
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = 8
	}
	if cfg.CacheTTLSec <= 0 {
		cfg.CacheTTLSec = 300
	}

	eng, err := engine.Open(cfg.IndexDir, log)
	if err != nil {
		return nil, err
	}
	m := &Module{
		log:      log,
		client:   client,
		config:   cfg,
		cmdTopic: cd.TopicCommands(cfg.TopicBase, cfg.NodeID),
		eng:      eng,
		media: mediaserver.New(mediaserver.Config{
			Listen:     cfg.HTTPListen,
			PathPrefix: cfg.PathPrefix,
			PathMap:    cfg.PathMap,
		}, log),
		cacheCtx: context.Background(),
		cacheTTL: time.Duration(cfg.CacheTTLSec) * time.Second,
	}
	if cfg.CacheEnabled {
		store := gocachefreecache.NewFreecache(
			freecache.NewCache(cfg.CacheSizeMB * 1024 * 1024))
		m.cache = gocache.New[[]byte](store)
	}
	return m, nil
}

// Run starts the media server and the coordinator, then serves
// commands until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	if err := m.media.Start(); err != nil {
		return err
	}
	defer m.media.Shutdown()
	defer m.eng.Close()

	host := entries.Host{HostPort: m.media.HostPort(), PathPrefix: m.config.PathPrefix}
	m.cat = catalog.New(m.eng, catalog.Config{
		TopDirs:  m.config.TopDirs,
		Excludes: m.config.Excludes,
		Tags:     tagsConfig(m.config),
	}, host, m.log)

	if err := m.publishPresence(); err != nil {
		return err
	}
	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(ctx, msg)
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.cmdTopic)

	return m.cat.Run(ctx)
}

func (m *Module) publishPresence() error {
	presence := cd.Presence{
		NodeID: m.config.NodeID,
		Kind:   "catalog",
		Name:   m.config.Name,
		Caps: map[string]any{
			"browse":  true,
			"search":  true,
			"resolve": true,
			"update":  true,
		},
		TS: time.Now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(cd.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) handleMessage(ctx context.Context, msg paho.Message) {
	var cmd cd.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}
	reply := m.dispatch(ctx, cmd)
	if cmd.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		m.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := m.client.Publish(cmd.ReplyTo, 1, false, payload); err != nil {
		m.log.Error("publish reply", zap.Error(err))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd cd.CommandEnvelope) cd.ReplyEnvelope {
	reply := cd.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   time.Now().Unix(),
	}
	switch cmd.Type {
	case "catalog.browse":
		return m.catalogBrowse(ctx, cmd, reply)
	case "catalog.search":
		return m.catalogSearch(ctx, cmd, reply)
	case "catalog.resolve":
		return m.catalogResolve(cmd, reply)
	case "catalog.update":
		return m.catalogUpdate(ctx, cmd, reply)
	case "catalog.status":
		return m.catalogStatus(cmd, reply)
	default:
		return errorReply(cmd, "INVALID", "unsupported command")
	}
}

func (m *Module) catalogBrowse(ctx context.Context, cmd cd.CommandEnvelope, reply cd.ReplyEnvelope) cd.ReplyEnvelope {
	var body cd.BrowseBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	if body.ObjectID == "" {
		body.ObjectID = cd.RootID
	}
	if body.Flag == "" {
		body.Flag = cd.FlagChildren
	}

	key := m.browseCacheKey(body.ObjectID, body.Flag)
	if payload, ok := m.cacheGet(key); ok {
		reply.Body = payload
		return reply
	}

	list, nocache, err := m.cat.Browse(ctx, body.ObjectID, body.Flag)
	if err != nil {
		return browseError(cmd, err)
	}
	payload, _ := json.Marshal(cd.EntriesReply{
		Entries: list,
		Total:   int64(len(list)),
		NoCache: nocache,
	})
	if !nocache {
		m.cacheSet(key, payload)
	}
	reply.Body = payload
	return reply
}

func (m *Module) catalogSearch(ctx context.Context, cmd cd.CommandEnvelope, reply cd.ReplyEnvelope) cd.ReplyEnvelope {
	var body cd.SearchBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	if body.ObjectID == "" {
		body.ObjectID = cd.RootID
	}
	list, nocache, err := m.cat.Search(ctx, body.ObjectID, body.Criteria)
	if err != nil {
		return browseError(cmd, err)
	}
	payload, _ := json.Marshal(cd.EntriesReply{
		Entries: list,
		Total:   int64(len(list)),
		NoCache: nocache,
	})
	reply.Body = payload
	return reply
}

func (m *Module) catalogResolve(cmd cd.CommandEnvelope, reply cd.ReplyEnvelope) cd.ReplyEnvelope {
	var body cd.ResolveBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	uri, mime, err := m.cat.Resolve(body.ObjectID)
	if err != nil {
		if errors.Is(err, cd.ErrBadObjectID) {
			return errorReply(cmd, "NOT_FOUND", err.Error())
		}
		return errorReply(cmd, "INVALID", err.Error())
	}
	payload, _ := json.Marshal(cd.ResolveReply{
		ObjectID: body.ObjectID,
		URI:      uri,
		MIME:     mime,
	})
	reply.Body = payload
	return reply
}

func (m *Module) catalogUpdate(ctx context.Context, cmd cd.CommandEnvelope, reply cd.ReplyEnvelope) cd.ReplyEnvelope {
	started := m.cat.StartUpdate(ctx)
	payload, _ := json.Marshal(cd.UpdateReply{
		Started: started,
		State:   string(m.cat.State()),
	})
	reply.Body = payload
	return reply
}

func (m *Module) catalogStatus(cmd cd.CommandEnvelope, reply cd.ReplyEnvelope) cd.ReplyEnvelope {
	payload, _ := json.Marshal(m.cat.Status())
	reply.Body = payload
	return reply
}

// browseCacheKey scopes cached listings to the generation, so a swap
// invalidates everything at once without an explicit flush.
func (m *Module) browseCacheKey(objid, flag string) string {
	seq := 0
	if gen := m.cat.Generation(); gen != nil {
		seq = gen.Seq
	}
	return fmt.Sprintf("browse:%d:%s:%s", seq, objid, flag)
}

func (m *Module) cacheGet(key string) ([]byte, bool) {
	if m.cache == nil {
		return nil, false
	}
	value, err := m.cache.Get(m.cacheCtx, key)
	if err != nil || len(value) == 0 {
		return nil, false
	}
	decoded, err := snappy.Decode(nil, value)
	if err != nil {
		m.log.Debug("cache decode failed", zap.Error(err))
		return nil, false
	}
	return decoded, true
}

func (m *Module) cacheSet(key string, payload []byte) {
	if m.cache == nil {
		return
	}
	_ = m.cache.Set(m.cacheCtx, key, snappy.Encode(nil, payload),
		libstore.WithExpiration(m.cacheTTL))
}

func tagsConfig(cfg Config) tags.Config {
	return tags.Config{AllowDiscGaps: cfg.AllowDiscGaps}
}

func browseError(cmd cd.CommandEnvelope, err error) cd.ReplyEnvelope {
	if errors.Is(err, cd.ErrBadObjectID) {
		return errorReply(cmd, "NOT_FOUND", err.Error())
	}
	return errorReply(cmd, "INTERNAL", err.Error())
}

func errorReply(cmd cd.CommandEnvelope, code string, message string) cd.ReplyEnvelope {
	return cd.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err:  &cd.ReplyError{Code: code, Message: message},
	}
}
