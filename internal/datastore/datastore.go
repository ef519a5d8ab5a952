// Package datastore states the external datastore engine's contract
// (spec §4.6) -- get/put/copy/commit/diff/mount over candidate/running --
// and supplies an in-memory reference implementation used as the
// within-process store and by tests. The real engine (an XML/YANG-aware
// key/subtree store) is explicitly out of scope; nothing here parses or
// validates YANG.
package datastore

import (
	"context"
	"encoding/json"

	"github.com/netconfd/controller/internal/schema"
)

// DS names one of the two datastores the protocol defines.
type DS int

const (
	Candidate DS = iota
	Running
)

func (d DS) String() string {
	if d == Candidate {
		return "candidate"
	}
	return "running"
}

// EditOp is the operation attribute of a Put against a subtree.
type EditOp int

const (
	OpMerge EditOp = iota
	OpReplace
	OpCreate
	OpDelete
)

// ValidateLevel controls how thoroughly Commit checks a candidate before
// applying it.
type ValidateLevel int

const (
	ValidateNone ValidateLevel = iota
	ValidateFull
)

// Tree is an immutable snapshot of a subtree, addressed by xpath and
// carrying its content as canonical JSON -- the internal representation
// this controller diffs and mounts against, independent of the wire-level
// XML encoding device replies arrive in.
type Tree struct {
	XPath string
	Data  json.RawMessage
}

// CommitResult reports the outcome of a Commit call.
type CommitResult struct {
	OK       bool
	ErrorXML string
}

// Delta is the result of a Diff: per spec §4.6, three partitions of
// change -- deletions, additions, and paired before/after changes.
type Delta struct {
	Deleted       []Tree
	Added         []Tree
	ChangedBefore []Tree
	ChangedAfter  []Tree
}

// Empty reports whether the delta carries no changes at all.
func (d Delta) Empty() bool {
	return len(d.Deleted) == 0 && len(d.Added) == 0 && len(d.ChangedBefore) == 0
}

// Store is the external datastore engine's contract. The datastore
// guarantees that a failed Commit leaves running unchanged.
type Store interface {
	Get(ctx context.Context, ds DS, xpath string) (Tree, error)
	Put(ctx context.Context, ds DS, op EditOp, tree Tree) error
	Copy(ctx context.Context, src, dst DS) error
	Commit(ctx context.Context, ds DS, level ValidateLevel) (CommitResult, error)
	Diff(schemaSet *schema.Set, before, after Tree, xpath string) (Delta, error)
	Mount(point string, schemaSet *schema.Set) error
}
