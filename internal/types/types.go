// Package types provides domain models shared across annotator components.
//
// Zero-dependency core: fact.go, rules.go and errors.go only describe shapes
// and sentinels. ID utilities in ids.go and the registry types import uuid
// because type and rule identities are 128-bit GUIDs in stored data.
//
// Concrete expression trees and results live in internal/rules; this package
// holds the flat, storage-facing rows they are built from so that the db
// layer never imports the engine.
package types

// InstanceAttribute marks a row that stands for the fact instance itself.
// Such rows become Logical(And) nodes grouping the predicates beneath them.
const InstanceAttribute = "((Instance))"

// IdentityAttribute is the synthetic leaf prepended to every matched
// Logical group, carrying the identity of the fact that satisfied it.
const IdentityAttribute = "Identity"

// Resource limits enforced when building and evaluating rule trees.
const (
	// MaxTreeDepth bounds recursion during evaluation and rendering.
	// Legacy rules nest at most a handful of levels; 64 leaves ample room.
	MaxTreeDepth = 64

	// MaxPatternLength caps PatternMatch expressions before compilation.
	MaxPatternLength = 4096

	// DefaultMaxWorkers is used when no worker bound is configured.
	DefaultMaxWorkers = 8
)
