// Package ctl implements the catctl use cases on top of the broker
// port: node discovery plus the catalog command round-trips.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tunedeck/catalogd/internal/ports"
	"github.com/tunedeck/catalogd/pkg/cd"
)

// Config carries resolved CLI settings.
type Config struct {
	Broker      string
	Identity    string
	TopicBase   string
	DefaultNode string
	Aliases     map[string]string
}

// Service orchestrates catctl use cases.
type Service struct {
	Broker ports.Broker
	Clock  ports.Clock
	IDGen  ports.IDGen
	Config Config
}

// ListNodes returns presence entries, optionally filtered by kind.
func (s Service) ListNodes(ctx context.Context, kind string) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	if kind != "" {
		filtered := nodes[:0]
		for _, node := range nodes {
			if node.Kind == kind {
				filtered = append(filtered, node)
			}
		}
		nodes = filtered
	}
	return NodesResult{Nodes: nodes}, nil
}

// resolveNode picks the target catalog node: an explicit selector (or
// its alias), the configured default, else the single catalog node
// present on the bus.
func (s Service) resolveNode(ctx context.Context, selector string) (string, error) {
	if selector != "" {
		if alias, ok := s.Config.Aliases[selector]; ok {
			return alias, nil
		}
		return selector, nil
	}
	if s.Config.DefaultNode != "" {
		return s.Config.DefaultNode, nil
	}
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return "", WrapError(ExitRuntime, "list nodes", err)
	}
	var catalogs []cd.Presence
	for _, node := range nodes {
		if node.Kind == "catalog" {
			catalogs = append(catalogs, node)
		}
	}
	switch len(catalogs) {
	case 0:
		return "", &CLIError{Code: ExitNotFound, Msg: "no catalog nodes found"}
	case 1:
		return catalogs[0].NodeID, nil
	}
	return "", &CLIError{Code: ExitUsage,
		Msg: fmt.Sprintf("%d catalog nodes found, pick one with --node", len(catalogs))}
}

func (s Service) roundTrip(ctx context.Context, nodeID, cmdType string, body any, out any) error {
	cmd, err := cd.NewCommand(cmdType, body)
	if err != nil {
		return WrapError(ExitRuntime, "build command", err)
	}
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()

	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		return WrapError(ExitRuntime, cmdType, err)
	}
	if !reply.OK {
		code, msg := "", cmdType+" failed"
		if reply.Err != nil {
			code, msg = reply.Err.Code, reply.Err.Message
		}
		return ErrorForReplyCode(code, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Body, out); err != nil {
		return WrapError(ExitRuntime, "decode reply", err)
	}
	return nil
}

// Status fetches a catalog node's status.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	nodeID, err := s.resolveNode(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	var status cd.StatusReply
	if err := s.roundTrip(ctx, nodeID, "catalog.status", struct{}{}, &status); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{NodeID: nodeID, Status: status}, nil
}

// Update triggers a background index pass.
func (s Service) Update(ctx context.Context, selector string) (UpdateResult, error) {
	nodeID, err := s.resolveNode(ctx, selector)
	if err != nil {
		return UpdateResult{}, err
	}
	var reply cd.UpdateReply
	if err := s.roundTrip(ctx, nodeID, "catalog.update", struct{}{}, &reply); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{NodeID: nodeID, Reply: reply}, nil
}

// Browse lists an object's children.
func (s Service) Browse(ctx context.Context, selector, objectID, flag string) (EntriesResult, error) {
	nodeID, err := s.resolveNode(ctx, selector)
	if err != nil {
		return EntriesResult{}, err
	}
	if objectID == "" {
		objectID = cd.RootID
	}
	var reply cd.EntriesReply
	body := cd.BrowseBody{ObjectID: objectID, Flag: flag}
	if err := s.roundTrip(ctx, nodeID, "catalog.browse", body, &reply); err != nil {
		return EntriesResult{}, err
	}
	return EntriesResult{NodeID: nodeID, ObjectID: objectID, Reply: reply}, nil
}

// Search runs UPnP search criteria against a container subtree.
func (s Service) Search(ctx context.Context, selector, objectID, criteria string) (EntriesResult, error) {
	nodeID, err := s.resolveNode(ctx, selector)
	if err != nil {
		return EntriesResult{}, err
	}
	if objectID == "" {
		objectID = cd.RootID
	}
	var reply cd.EntriesReply
	body := cd.SearchBody{ObjectID: objectID, Criteria: criteria}
	if err := s.roundTrip(ctx, nodeID, "catalog.search", body, &reply); err != nil {
		return EntriesResult{}, err
	}
	return EntriesResult{NodeID: nodeID, ObjectID: objectID, Reply: reply}, nil
}

// Resolve maps an item objid to its media URI.
func (s Service) Resolve(ctx context.Context, selector, objectID string) (ResolveResult, error) {
	nodeID, err := s.resolveNode(ctx, selector)
	if err != nil {
		return ResolveResult{}, err
	}
	var reply cd.ResolveReply
	body := cd.ResolveBody{ObjectID: objectID}
	if err := s.roundTrip(ctx, nodeID, "catalog.resolve", body, &reply); err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{NodeID: nodeID, Reply: reply}, nil
}
