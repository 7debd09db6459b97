package ctl

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tunedeck/catalogd/pkg/cd"
)

type stubClock struct{}

func (stubClock) NowUnix() int64 { return 100 }

type stubIDGen struct{}

func (stubIDGen) NewID() string { return "id-1" }

type stubBroker struct {
	presence []cd.Presence
	replies  map[string]cd.ReplyEnvelope
	lastNode string
	lastCmd  cd.CommandEnvelope
}

func (s *stubBroker) ReplyTopic() string { return "cd/v1/reply/test" }

func (s *stubBroker) PublishCommand(ctx context.Context, nodeID string, cmd cd.CommandEnvelope) (cd.ReplyEnvelope, error) {
	s.lastNode = nodeID
	s.lastCmd = cmd
	if reply, ok := s.replies[cmd.Type]; ok {
		return reply, nil
	}
	return cd.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: 101, Body: json.RawMessage(`{}`)}, nil
}

func (s *stubBroker) ListPresence(ctx context.Context) ([]cd.Presence, error) {
	return s.presence, nil
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func newService(broker *stubBroker, cfg Config) Service {
	cfg.Identity = "tester"
	return Service{Broker: broker, Clock: stubClock{}, IDGen: stubIDGen{}, Config: cfg}
}

func TestListNodesFiltersByKind(t *testing.T) {
	broker := &stubBroker{presence: []cd.Presence{
		{NodeID: "cd:cat:1", Kind: "catalog"},
		{NodeID: "cd:other:1", Kind: "renderer"},
	}}
	svc := newService(broker, Config{})

	result, err := svc.ListNodes(context.Background(), "catalog")
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(result.Nodes) != 1 || result.Nodes[0].NodeID != "cd:cat:1" {
		t.Fatalf("unexpected nodes %+v", result.Nodes)
	}
}

func TestResolveNodePrecedence(t *testing.T) {
	broker := &stubBroker{presence: []cd.Presence{
		{NodeID: "cd:cat:solo", Kind: "catalog"},
	}}

	svc := newService(broker, Config{Aliases: map[string]string{"den": "cd:cat:den"}})
	node, err := svc.resolveNode(context.Background(), "den")
	if err != nil || node != "cd:cat:den" {
		t.Fatalf("alias resolve = %q, %v", node, err)
	}

	node, err = svc.resolveNode(context.Background(), "cd:cat:explicit")
	if err != nil || node != "cd:cat:explicit" {
		t.Fatalf("explicit resolve = %q, %v", node, err)
	}

	svc = newService(broker, Config{DefaultNode: "cd:cat:default"})
	node, err = svc.resolveNode(context.Background(), "")
	if err != nil || node != "cd:cat:default" {
		t.Fatalf("default resolve = %q, %v", node, err)
	}

	svc = newService(broker, Config{})
	node, err = svc.resolveNode(context.Background(), "")
	if err != nil || node != "cd:cat:solo" {
		t.Fatalf("single-node resolve = %q, %v", node, err)
	}
}

func TestResolveNodeAmbiguousAndMissing(t *testing.T) {
	broker := &stubBroker{}
	svc := newService(broker, Config{})
	if _, err := svc.resolveNode(context.Background(), ""); ExitCode(err) != ExitNotFound {
		t.Fatalf("no nodes should exit %d, got %v", ExitNotFound, err)
	}

	broker.presence = []cd.Presence{
		{NodeID: "cd:cat:1", Kind: "catalog"},
		{NodeID: "cd:cat:2", Kind: "catalog"},
	}
	if _, err := svc.resolveNode(context.Background(), ""); ExitCode(err) != ExitUsage {
		t.Fatalf("ambiguous nodes should exit %d, got %v", ExitUsage, err)
	}
}

func TestBrowseRoundTrip(t *testing.T) {
	broker := &stubBroker{replies: map[string]cd.ReplyEnvelope{
		"catalog.browse": {OK: true, Body: mustJSON(t, cd.EntriesReply{
			Entries: []cd.Entry{{ID: "0$uprcl$folders", Title: "[folders]"}},
			Total:   1,
		})},
	}}
	svc := newService(broker, Config{DefaultNode: "cd:cat:1"})

	result, err := svc.Browse(context.Background(), "", "", cd.FlagChildren)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if result.ObjectID != cd.RootID {
		t.Fatalf("empty objid should default to root, got %q", result.ObjectID)
	}
	if len(result.Reply.Entries) != 1 || result.Reply.Entries[0].Title != "[folders]" {
		t.Fatalf("unexpected reply %+v", result.Reply)
	}

	if broker.lastNode != "cd:cat:1" {
		t.Fatalf("command sent to %q", broker.lastNode)
	}
	var body cd.BrowseBody
	if err := json.Unmarshal(broker.lastCmd.Body, &body); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if body.ObjectID != cd.RootID || body.Flag != cd.FlagChildren {
		t.Fatalf("unexpected sent body %+v", body)
	}
	if broker.lastCmd.ID != "id-1" || broker.lastCmd.TS != 100 || broker.lastCmd.From != "tester" {
		t.Fatalf("envelope fields not filled: %+v", broker.lastCmd)
	}
	if broker.lastCmd.ReplyTo != "cd/v1/reply/test" {
		t.Fatalf("replyTo not set: %+v", broker.lastCmd)
	}
}

func TestSearchRoundTrip(t *testing.T) {
	broker := &stubBroker{replies: map[string]cd.ReplyEnvelope{
		"catalog.search": {OK: true, Body: mustJSON(t, cd.EntriesReply{Total: 0})},
	}}
	svc := newService(broker, Config{DefaultNode: "cd:cat:1"})

	criteria := `upnp:artist contains "Bach"`
	if _, err := svc.Search(context.Background(), "", "0$uprcl$folders$d3", criteria); err != nil {
		t.Fatalf("search: %v", err)
	}
	var body cd.SearchBody
	if err := json.Unmarshal(broker.lastCmd.Body, &body); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if body.ObjectID != "0$uprcl$folders$d3" || body.Criteria != criteria {
		t.Fatalf("unexpected sent body %+v", body)
	}
}

func TestErrorReplyMapsToExitCode(t *testing.T) {
	broker := &stubBroker{replies: map[string]cd.ReplyEnvelope{
		"catalog.resolve": {OK: false, Err: &cd.ReplyError{Code: "NOT_FOUND", Message: "no such object"}},
	}}
	svc := newService(broker, Config{DefaultNode: "cd:cat:1"})

	_, err := svc.Resolve(context.Background(), "", "0$uprcl$folders$i99")
	if ExitCode(err) != ExitNotFound {
		t.Fatalf("NOT_FOUND should exit %d, got %v", ExitNotFound, err)
	}

	broker.replies["catalog.resolve"] = cd.ReplyEnvelope{OK: false,
		Err: &cd.ReplyError{Code: "INVALID", Message: "bad request"}}
	_, err = svc.Resolve(context.Background(), "", "x")
	if ExitCode(err) != ExitUsage {
		t.Fatalf("INVALID should exit %d, got %v", ExitUsage, err)
	}
}

func TestStatusAndUpdate(t *testing.T) {
	broker := &stubBroker{replies: map[string]cd.ReplyEnvelope{
		"catalog.status": {OK: true, Body: mustJSON(t, cd.StatusReply{State: "idle", Docs: 42})},
		"catalog.update": {OK: true, Body: mustJSON(t, cd.UpdateReply{Started: true, State: "indexing"})},
	}}
	svc := newService(broker, Config{DefaultNode: "cd:cat:1"})

	status, err := svc.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status.State != "idle" || status.Status.Docs != 42 {
		t.Fatalf("unexpected status %+v", status)
	}

	update, err := svc.Update(context.Background(), "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !update.Reply.Started || update.Reply.State != "indexing" {
		t.Fatalf("unexpected update %+v", update)
	}
}
