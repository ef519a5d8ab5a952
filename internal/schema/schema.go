// Package schema implements the schema acquisition sub-pipeline (spec
// §4.3): given a device's module-set description, it resolves each
// module in preference order compiled > local cache file > remote fetch,
// persists newly fetched modules to a cache directory, and hands back a
// compiled Set that the device handle mounts into the global config tree.
//
// Compiling a module set is explicitly not this package's job (per spec
// §1 Non-goals, the core does not implement its own YANG parser);
// Pipeline.Resolve neither parses nor checks the module files on disk, it
// only produces a content-addressed handle (Set) that the external
// datastore engine's Mount call can use as a schema-set identifier.
package schema

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// ModuleRef identifies one YANG module at a specific revision.
type ModuleRef struct {
	Name      string
	Revision  string
	Namespace string
	Format    string
}

// FileName returns the cache file name for m, per spec §4.3:
// "{name}[@{revision}].yang".
func (m ModuleRef) FileName() string {
	if m.Revision == "" {
		return fmt.Sprintf("%s.yang", m.Name)
	}
	return fmt.Sprintf("%s@%s.yang", m.Name, m.Revision)
}

// Set is a compiled schema set mounted into a device's config-tree
// subtree. Two Sets with the same Fingerprint were compiled from an
// identical module list and may be shared across devices.
type Set struct {
	Fingerprint string
	Modules     []ModuleRef
}

// Fingerprint deterministically identifies a module list, independent of
// input order, so devices advertising the same module set converge on
// the same cache key.
func Fingerprint(modules []ModuleRef) string {
	var sorted = append([]ModuleRef(nil), modules...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Revision < sorted[j].Revision
	})
	var h = sha1.New()
	for _, m := range sorted {
		fmt.Fprintf(h, "%s@%s;", m.Name, m.Revision)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is a process-wide LRU of compiled Sets, so devices that share an
// identical module set -- a common fleet scenario -- reuse one compiled
// instance instead of recompiling per device.
type Cache struct {
	lru *lru.Cache[string, *Set]
}

// NewCache returns a Cache holding up to size compiled Sets.
func NewCache(size int) (*Cache, error) {
	var l, err = lru.New[string, *Set](size)
	if err != nil {
		return nil, errors.Wrap(err, "schema: new compiled cache")
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached compiled Set for fingerprint, if present.
func (c *Cache) Get(fingerprint string) (*Set, bool) {
	return c.lru.Get(fingerprint)
}

// Put stores a compiled Set under its own fingerprint.
func (c *Cache) Put(s *Set) {
	c.lru.Add(s.Fingerprint, s)
}

// CacheDir wraps a local directory of fetched YANG module files.
type CacheDir struct {
	Dir string
}

// HasLocal reports whether m's module text is already present in the
// cache directory.
func (c CacheDir) HasLocal(m ModuleRef) bool {
	var _, err = os.Stat(filepath.Join(c.Dir, m.FileName()))
	return err == nil
}

// WriteLocal atomically persists a module's YANG text to the cache
// directory via a temp-file-and-rename, so two devices racing to fetch
// the same module never observe a partially written file. See
// DESIGN.md for why this departs from the source's direct write.
func (c CacheDir) WriteLocal(m ModuleRef, yangText []byte) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return errors.Wrap(err, "schema: mkdir cache dir")
	}
	var final = filepath.Join(c.Dir, m.FileName())
	var tmp = final + ".tmp"

	var f, err = os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "schema: create temp file")
	}
	if _, err = f.Write(yangText); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "schema: write temp file")
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "schema: close temp file")
	}
	if err = os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "schema: rename temp file")
	}
	return nil
}
