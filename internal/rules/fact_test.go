package rules

import (
	"sync"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

var (
	testModelID = uuid.MustParse("d24ba939-b492-40cc-91e7-7fea8904fd02")
	fileType    = &types.ObjectType{ID: uuid.MustParse("3be6c2a8-c0f8-4ab5-9097-cdc33920fbbc"), ModelTypeID: testModelID, Name: "DumpFile"}
	threadType  = &types.ObjectType{ID: uuid.MustParse("fc628e31-5d94-4351-bd09-60a5c2011d87"), ModelTypeID: testModelID, Name: "ThreadInfo"}
	frameType   = &types.ObjectType{ID: uuid.MustParse("e3134689-8fd5-4b4b-aec2-aa6383e4b0d8"), ModelTypeID: testModelID, Name: "FunctionCallInfo"}
)

// testFact is a map-backed fact that counts attribute and collection lookups.
type testFact struct {
	id    int64
	typ   *types.ObjectType
	attrs map[string]any
	colls map[string][]types.Fact

	mu      sync.Mutex
	lookups map[string]int
}

func newFact(id int64, typ *types.ObjectType, attrs map[string]any) *testFact {
	return &testFact{id: id, typ: typ, attrs: attrs, colls: map[string][]types.Fact{}, lookups: map[string]int{}}
}

func (f *testFact) with(name string, elements ...types.Fact) *testFact {
	f.colls[name] = elements
	return f
}

func (f *testFact) Identity() int64         { return f.id }
func (f *testFact) Type() *types.ObjectType { return f.typ }
func (f *testFact) Container() any          { return nil }

func (f *testFact) Attribute(name string) (any, bool) {
	f.count(name)
	v, ok := f.attrs[name]
	return v, ok
}

func (f *testFact) Collection(name string) ([]types.Fact, bool) {
	f.count(name)
	c, ok := f.colls[name]
	return c, ok
}

func (f *testFact) count(name string) {
	f.mu.Lock()
	f.lookups[name]++
	f.mu.Unlock()
}

func (f *testFact) lookupsOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[name]
}

// panicFact panics on every attribute lookup.
type panicFact struct{ testFact }

func (*panicFact) Attribute(name string) (any, bool) {
	panic("attribute " + name + " exploded")
}

func mustComparison(attr string, op Operator, value any) *Comparison {
	c, err := NewComparison(attr, op, value)
	if err != nil {
		panic(err)
	}
	return c
}

func mustLogical(op Operator, children ...Node) *Logical {
	l, err := NewLogical(op, children...)
	if err != nil {
		panic(err)
	}
	return l
}

func mustQuantifier(attr string, children ...Node) *Quantifier {
	q, err := NewQuantifier(attr, OpExists, children...)
	if err != nil {
		panic(err)
	}
	return q
}

func strPtr(s string) *string { return &s }

type resolverFunc func(types.TypeRef) (*types.ObjectType, error)

func (f resolverFunc) Lookup(ref types.TypeRef) (*types.ObjectType, error) { return f(ref) }

func testResolver() TypeResolver {
	return resolverFunc(func(ref types.TypeRef) (*types.ObjectType, error) {
		for _, t := range []*types.ObjectType{fileType, threadType, frameType} {
			if t.Ref() == ref {
				return t, nil
			}
		}
		return nil, types.ErrUnknownType
	})
}
