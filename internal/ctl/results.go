package ctl

import "github.com/tunedeck/catalogd/pkg/cd"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []cd.Presence
}

// StatusResult holds a catalog node's status reply.
type StatusResult struct {
	NodeID string
	Status cd.StatusReply
}

// EntriesResult holds a browse or search listing.
type EntriesResult struct {
	NodeID   string
	ObjectID string
	Reply    cd.EntriesReply
}

// ResolveResult holds a resolved item.
type ResolveResult struct {
	NodeID string
	Reply  cd.ResolveReply
}

// UpdateResult reports an update trigger.
type UpdateResult struct {
	NodeID string
	Reply  cd.UpdateReply
}
