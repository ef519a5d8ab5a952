package schema

// FilterFunc decides whether a module advertised by a device should be
// acquired at all. The default policy keeps everything; vendor-specific
// deployments can drop metadata-only modules a given vendor injects into
// its schema list.
type FilterFunc func(ModuleRef) bool

// PostprocessFunc transforms a module's raw YANG text after it's fetched
// but before it's written to the cache directory, letting a vendor policy
// correct known irregularities (a malformed revision-date statement, for
// example) without forking the compiler.
type PostprocessFunc func(ModuleRef, []byte) ([]byte, error)

// Policy bundles the two injectable hooks spec §9 calls out:
// schema-filter(module) -> keep/drop and
// schema-postprocess(parsed-module) -> module.
type Policy struct {
	Filter      FilterFunc
	Postprocess PostprocessFunc
}

// DefaultPolicy keeps every module format=yang entry unmodified.
func DefaultPolicy() Policy {
	return Policy{
		Filter:      func(ModuleRef) bool { return true },
		Postprocess: func(_ ModuleRef, text []byte) ([]byte, error) { return text, nil },
	}
}
