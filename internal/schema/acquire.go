package schema

// Pipeline coordinates the resolution order spec §4.3 requires: compiled
// > local cache file > remote fetch. The device state machine drives the
// actual remote get-schema round trips (one at a time, since the
// transport is single-request-at-a-time per device); Pipeline only
// tracks what's already available and persists what comes back.
type Pipeline struct {
	Cache    CacheDir
	Compiled *Cache
	Policy   Policy
}

// NewPipeline returns a Pipeline rooted at cacheDir with a compiled-set
// LRU of the given size and the given module policy.
func NewPipeline(cacheDir string, compiledCacheSize int, policy Policy) (*Pipeline, error) {
	var compiled, err = NewCache(compiledCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Cache:    CacheDir{Dir: cacheDir},
		Compiled: compiled,
		Policy:   policy,
	}, nil
}

// Eligible filters entries (by format=yang, location=NETCONF, and the
// injected module policy) into the module set the device state machine
// should consider acquiring.
func Eligible(entries []SchemaListEntry, policy Policy) []ModuleRef {
	var out []ModuleRef
	for _, e := range entries {
		if e.Format != "yang" || e.Location != "NETCONF" {
			continue
		}
		var m = ModuleRef{Name: e.Identifier, Revision: e.Version, Namespace: e.Namespace, Format: e.Format}
		if policy.Filter(m) {
			out = append(out, m)
		}
	}
	return out
}

// SchemaListEntry mirrors netconf.SchemaEntry without importing the
// netconf package, keeping schema free of a dependency on the wire
// format; the device package adapts between the two.
type SchemaListEntry struct {
	Identifier string
	Version    string
	Namespace  string
	Format     string
	Location   string
}

// Missing returns the subset of modules not already available locally,
// in the order SCHEMA_ONE must fetch them.
func (p *Pipeline) Missing(modules []ModuleRef) []ModuleRef {
	var out []ModuleRef
	for _, m := range modules {
		if !p.Cache.HasLocal(m) {
			out = append(out, m)
		}
	}
	return out
}

// Resolve produces (or reuses) a compiled Set for the full module list,
// assuming every module is now present locally. It implements the
// "compiled" resolution tier: an identical module list served from any
// device reuses the same Set.
func (p *Pipeline) Resolve(modules []ModuleRef) *Set {
	var fp = Fingerprint(modules)
	if s, ok := p.Compiled.Get(fp); ok {
		return s
	}
	var s = &Set{Fingerprint: fp, Modules: modules}
	p.Compiled.Put(s)
	return s
}
