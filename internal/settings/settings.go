// Package settings holds the process-wide configuration knobs that every
// other package in this module reads from, but none of them mutate. A
// Settings value is built once (from defaults, a config file, and CLI
// flags, in that order of increasing precedence) and then passed by
// value through Parser, Parameters, Resolver, and Core.
package settings

// Default sentinel/delimiter values, mirroring the reference
// implementation's reclass/defaults.py.
const (
	DefaultReferenceOpen  = "${"
	DefaultReferenceClose = "}"
	DefaultQueryOpen      = "$["
	DefaultQueryClose     = "]"
	DefaultDelimiter      = ":"
	DefaultOverridePrefix = "~"
	DefaultConstantPrefix = "="
	DefaultEscapeChar     = '\\'
	DefaultEnvironment    = "base"
	DefaultNodesURI       = "nodes"
	DefaultClassesURI     = "classes"
)

// Settings is not changed once it has been built and handed to the other
// packages. New fills in the reference implementation's defaults; every
// field New leaves unset has its zero value as its default.
type Settings struct {
	// Delimiter separates path components in a Path (e.g. "a:b:c").
	Delimiter string

	// ReferenceOpen/Close and QueryOpen/Close are the parser sentinels for
	// "${...}" and "$[...]" respectively.
	ReferenceOpen, ReferenceClose string
	QueryOpen, QueryClose         string
	EscapeChar                    byte


	// OverridePrefix marks a mapping key for "discard existing, replace"
	// merge semantics (e.g. "~key").
	OverridePrefix string
	// ConstantPrefix marks a mapping key as immutable after this merge
	// (e.g. "=key").
	ConstantPrefix string

	// Merge-compatibility escape hatches; all default to false/disabled.
	AllowScalarOverDict  bool
	AllowScalarOverList  bool
	AllowListOverScalar  bool
	AllowDictOverScalar  bool
	AllowNoneOverride    bool
	StrictConstantParams bool

	// IgnoreOverwrittenMissingReferences downgrades a missing reference in
	// a non-topmost ValueList layer to null instead of failing, since a
	// later layer is expected to overwrite it.
	IgnoreOverwrittenMissingReferences bool

	// AutomaticParameters toggles the synthetic _reclass_.name.{full,short}
	// parameter merged into every node before its ancestry is walked.
	AutomaticParameters bool

	DefaultEnvironment string

	// IgnoreClassNotFound suppresses ClassNotFound unless none of
	// IgnoreClassNotFoundRegexps match the missing class name (an empty
	// list means "suppress unconditionally").
	IgnoreClassNotFound        bool
	IgnoreClassNotFoundRegexps []string

	// ComposeNodeName exposes a node stored at a/b/c.yml as "a.b.c" rather
	// than the bare file stem "c".
	ComposeNodeName bool

	// ClassMappingsMatchPath matches class-mapping rules against a node's
	// storage path instead of its short name.
	ClassMappingsMatchPath bool

	// InventoryIgnoreFailedNode collects per-node build failures into a
	// diagnostic map instead of aborting the whole inventory build on the
	// first error.
	InventoryIgnoreFailedNode bool

	// GroupErrors combines multiple independent failures into one
	// aggregate error (errors.List) instead of reporting only the first.
	GroupErrors bool

	// InventoryIgnoreFailedRender is the process-wide default for a query's
	// own "+IgnoreErrors" option: every "$[...]" query behaves as if
	// "+IgnoreErrors" were written on it, without needing to write it. A
	// query can still turn IgnoreErrors on for itself; this setting only
	// ever forces it on, never off.
	InventoryIgnoreFailedRender bool
}

// New returns a Settings populated with every default.
func New() Settings {
	return Settings{
		Delimiter:           DefaultDelimiter,
		ReferenceOpen:       DefaultReferenceOpen,
		ReferenceClose:      DefaultReferenceClose,
		QueryOpen:           DefaultQueryOpen,
		QueryClose:          DefaultQueryClose,
		EscapeChar:          DefaultEscapeChar,
		OverridePrefix:      DefaultOverridePrefix,
		ConstantPrefix:      DefaultConstantPrefix,
		AutomaticParameters: true,
		DefaultEnvironment:  DefaultEnvironment,
	}
}
