package types

// Fact is a record evaluated against rules. The engine consumes facts but
// never owns or stores them.
//
// Attribute and Collection report ok=false when the name is not exposed by
// the fact; evaluation treats that as "no match", not as an error.
type Fact interface {
	// Identity is the record's numeric identity, reported in results.
	Identity() int64

	// Type is the registry entry describing the record, or nil if untyped.
	Type() *ObjectType

	// Container is an opaque handle to the file or document holding the
	// record (for example the dump file a thread belongs to).
	Container() any

	// Attribute resolves a named scalar attribute.
	Attribute(name string) (any, bool)

	// Collection resolves a named, ordered collection of nested facts.
	Collection(name string) ([]Fact, bool)
}
