package datastore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/netconfd/controller/internal/schema"
)

// MemStore is an in-memory Store, the default within-process
// implementation used when no external datastore engine is configured,
// and by every test in this repository. It stores each datastore as a
// flat xpath -> JSON map; Commit only copies candidate into running (no
// real YANG validation is performed, consistent with §1 Non-goals).
type MemStore struct {
	mu        sync.Mutex
	running   map[string]json.RawMessage
	candidate map[string]json.RawMessage
	mounts    map[string]*schema.Set
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		running:   make(map[string]json.RawMessage),
		candidate: make(map[string]json.RawMessage),
		mounts:    make(map[string]*schema.Set),
	}
}

func (m *MemStore) datastoreFor(ds DS) map[string]json.RawMessage {
	if ds == Running {
		return m.running
	}
	return m.candidate
}

func (m *MemStore) Get(ctx context.Context, ds DS, xpath string) (Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Tree{XPath: xpath, Data: m.datastoreFor(ds)[xpath]}, nil
}

func (m *MemStore) Put(ctx context.Context, ds DS, op EditOp, tree Tree) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target = m.datastoreFor(ds)
	switch op {
	case OpDelete:
		delete(target, tree.XPath)
	default:
		// OpMerge, OpReplace and OpCreate all collapse to a whole-subtree
		// replace for this in-memory store: it has no finer-grained
		// notion of "merge" below the xpath boundary spec §3 diffs at.
		target[tree.XPath] = tree.Data
	}
	return nil
}

func (m *MemStore) Copy(ctx context.Context, src, dst DS) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var from = m.datastoreFor(src)
	var to = make(map[string]json.RawMessage, len(from))
	for k, v := range from {
		to[k] = v
	}
	if dst == Running {
		m.running = to
	} else {
		m.candidate = to
	}
	return nil
}

func (m *MemStore) Commit(ctx context.Context, ds DS, level ValidateLevel) (CommitResult, error) {
	if ds != Candidate {
		return CommitResult{OK: false, ErrorXML: "commit is only defined against candidate"}, nil
	}
	if err := m.Copy(ctx, Candidate, Running); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{OK: true}, nil
}

func (m *MemStore) Diff(schemaSet *schema.Set, before, after Tree, xpath string) (Delta, error) {
	return Diff(before, after, xpath)
}

func (m *MemStore) Mount(point string, schemaSet *schema.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounts[point] = schemaSet
	return nil
}

// MountedSchema returns the schema.Set mounted at point, if any -- used
// by tests to assert a mount occurred.
func (m *MemStore) MountedSchema(point string) (*schema.Set, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.mounts[point]
	return s, ok
}

var _ Store = (*MemStore)(nil)
