package catalogmod

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tunedeck/catalogd/internal/catalog"
	"github.com/tunedeck/catalogd/internal/entries"
	"github.com/tunedeck/catalogd/internal/tags"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// newTestModule wires a module around a tiny on-disk library without
// starting the MQTT or HTTP surfaces: dispatch is exercised directly.
func newTestModule(t *testing.T, cacheEnabled bool) *Module {
	t.Helper()
	root := t.TempDir()
	music := filepath.Join(root, "music")
	if err := os.MkdirAll(music, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(music, "a.mp3"), []byte(""), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}

	mod, err := NewModule(zap.NewNop(), nil, Config{
		NodeID:       "cd:catalog:test",
		TopDirs:      []string{music},
		IndexDir:     filepath.Join(root, "index.bleve"),
		CacheEnabled: cacheEnabled,
	})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	t.Cleanup(func() { mod.eng.Close() })

	host := entries.Host{HostPort: "127.0.0.1:9000", PathPrefix: mod.config.PathPrefix}
	mod.cat = catalog.New(mod.eng, catalog.Config{
		TopDirs: mod.config.TopDirs,
		Tags:    tags.Config{AllowDiscGaps: mod.config.AllowDiscGaps},
	}, host, zap.NewNop())

	mod.cat.StartUpdate(context.Background())
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if mod.cat.Generation() != nil && mod.cat.State() == catalog.StateIdle {
			return mod
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("generation never published")
	return nil
}

func command(t *testing.T, id, cmdType string, body any) cd.CommandEnvelope {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return cd.CommandEnvelope{ID: id, Type: cmdType, Body: raw}
}

func TestDispatchBrowseAndResolve(t *testing.T) {
	mod := newTestModule(t, false)
	ctx := context.Background()

	reply := mod.dispatch(ctx, command(t, "c1", "catalog.browse", cd.BrowseBody{}))
	if !reply.OK || reply.ID != "c1" {
		t.Fatalf("browse reply %+v", reply)
	}
	var listing cd.EntriesReply
	if err := json.Unmarshal(reply.Body, &listing); err != nil {
		t.Fatalf("decode browse reply: %v", err)
	}
	if listing.NoCache || listing.Total != int64(len(listing.Entries)) || len(listing.Entries) == 0 {
		t.Fatalf("unexpected listing %+v", listing)
	}

	gen := mod.cat.Generation()
	trackIdx := -1
	for i := range gen.Docs {
		if gen.Docs[i].IsTrack() {
			trackIdx = i
		}
	}
	if trackIdx < 0 {
		t.Fatal("no track indexed")
	}

	reply = mod.dispatch(ctx, command(t, "c2", "catalog.resolve",
		cd.ResolveBody{ObjectID: cd.FolderItemID(trackIdx)}))
	if !reply.OK {
		t.Fatalf("resolve reply %+v", reply)
	}
	var resolved cd.ResolveReply
	if err := json.Unmarshal(reply.Body, &resolved); err != nil {
		t.Fatalf("decode resolve reply: %v", err)
	}
	if resolved.URI == "" || resolved.MIME != "audio/mpeg" {
		t.Fatalf("unexpected resolve %+v", resolved)
	}
}

func TestDispatchErrors(t *testing.T) {
	mod := newTestModule(t, false)
	ctx := context.Background()

	reply := mod.dispatch(ctx, command(t, "c1", "catalog.browse",
		cd.BrowseBody{ObjectID: "0$uprcl$bogus"}))
	if reply.OK || reply.Err == nil || reply.Err.Code != "NOT_FOUND" {
		t.Fatalf("bad objid should be NOT_FOUND: %+v", reply)
	}

	reply = mod.dispatch(ctx, command(t, "c2", "catalog.nope", struct{}{}))
	if reply.OK || reply.Err == nil || reply.Err.Code != "INVALID" {
		t.Fatalf("unknown command should be INVALID: %+v", reply)
	}

	reply = mod.dispatch(ctx, cd.CommandEnvelope{ID: "c3", Type: "catalog.browse",
		Body: json.RawMessage(`{broken`)})
	if reply.OK || reply.Err == nil || reply.Err.Code != "INVALID" {
		t.Fatalf("broken body should be INVALID: %+v", reply)
	}
}

func TestDispatchStatusAndUpdate(t *testing.T) {
	mod := newTestModule(t, false)
	ctx := context.Background()

	reply := mod.dispatch(ctx, command(t, "c1", "catalog.status", struct{}{}))
	if !reply.OK {
		t.Fatalf("status reply %+v", reply)
	}
	var status cd.StatusReply
	if err := json.Unmarshal(reply.Body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != string(catalog.StateIdle) || status.Tracks != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	reply = mod.dispatch(ctx, command(t, "c2", "catalog.update", struct{}{}))
	if !reply.OK {
		t.Fatalf("update reply %+v", reply)
	}
	var update cd.UpdateReply
	if err := json.Unmarshal(reply.Body, &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if !update.Started {
		t.Fatalf("idle catalog should accept an update: %+v", update)
	}
}

func TestBrowseCacheRoundTrip(t *testing.T) {
	mod := newTestModule(t, true)
	ctx := context.Background()

	first := mod.dispatch(ctx, command(t, "c1", "catalog.browse", cd.BrowseBody{}))
	if !first.OK {
		t.Fatalf("browse reply %+v", first)
	}

	key := mod.browseCacheKey(cd.RootID, cd.FlagChildren)
	if _, ok := mod.cacheGet(key); !ok {
		t.Fatal("listing should be cached after first browse")
	}

	second := mod.dispatch(ctx, command(t, "c2", "catalog.browse", cd.BrowseBody{}))
	if !second.OK {
		t.Fatalf("cached browse reply %+v", second)
	}
	if string(first.Body) != string(second.Body) {
		t.Fatalf("cached reply should match original:\n%s\n%s", first.Body, second.Body)
	}
}

func TestNewModuleValidation(t *testing.T) {
	cases := []Config{
		{TopDirs: []string{"/x"}, IndexDir: "/tmp/i"},
		{NodeID: "n", IndexDir: "/tmp/i"},
		{NodeID: "n", TopDirs: []string{"/x"}},
	}
	for _, cfg := range cases {
		if _, err := NewModule(zap.NewNop(), nil, cfg); err == nil {
			t.Errorf("config %+v should be rejected", cfg)
		}
	}
}
