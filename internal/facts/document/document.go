// Package document provides a schema-less Fact over decoded JSON.
//
// Attribute names are paths (see ParsePath); numbers are normalized to int64
// when integral and float64 otherwise. Collections are arrays of objects;
// each object becomes a child Document sharing the parent's container.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/solatis/annotator/internal/types"
)

// DefaultIdentityField is the field read for a document's identity.
const DefaultIdentityField = types.IdentityAttribute

// Option configures a Document.
type Option func(*Document)

// WithType sets the object type reported by the document. Child documents
// are untyped.
func WithType(t *types.ObjectType) Option {
	return func(d *Document) { d.typ = t }
}

// WithIdentityField names the field holding the numeric identity.
func WithIdentityField(field string) Option {
	return func(d *Document) {
		if field != "" {
			d.identityField = field
		}
	}
}

// Document is a JSON object exposed as a Fact.
type Document struct {
	data          map[string]any
	typ           *types.ObjectType
	identityField string
	identity      int64
	root          *Document

	mu    sync.Mutex
	paths map[string][]Segment
}

var _ types.Fact = (*Document)(nil)

// New wraps an already decoded object. Numbers may be float64 or
// json.Number.
func New(data map[string]any, opts ...Option) *Document {
	d := &Document{data: data, identityField: DefaultIdentityField}
	for _, opt := range opts {
		opt(d)
	}
	d.root = d
	d.identity = d.readIdentity(0)
	return d
}

// Decode reads one JSON object.
func Decode(r io.Reader, opts ...Option) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: document: %v", types.ErrInvalidFact, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: document is null", types.ErrInvalidFact)
	}
	return New(data, opts...), nil
}

// Parse decodes a JSON object held in memory.
func Parse(raw []byte, opts ...Option) (*Document, error) {
	return Decode(bytes.NewReader(raw), opts...)
}

func (d *Document) Identity() int64         { return d.identity }
func (d *Document) Type() *types.ObjectType { return d.typ }

// Container returns the top-level document this one was reached from.
func (d *Document) Container() any { return d.root }

// Data returns the underlying object.
func (d *Document) Data() map[string]any { return d.data }

// Attribute resolves a scalar at the given path. Objects and arrays are not
// scalars and report ok=false; JSON null reports (nil, true).
func (d *Document) Attribute(name string) (any, bool) {
	v, ok := d.lookup(name)
	if !ok {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return nil, false
	}
	return normalize(v), true
}

// Collection resolves an array of objects at the given path. Elements that
// are not objects are skipped.
func (d *Document) Collection(name string) ([]types.Fact, bool) {
	v, ok := d.lookup(name)
	if !ok {
		return nil, false
	}
	elems, ok := v.([]any)
	if !ok {
		return nil, false
	}

	out := make([]types.Fact, 0, len(elems))
	for i, elem := range elems {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		child := &Document{data: obj, identityField: d.identityField, root: d.root}
		child.identity = child.readIdentity(int64(i + 1))
		out = append(out, child)
	}
	return out, true
}

func (d *Document) lookup(name string) (any, bool) {
	path, err := d.parse(name)
	if err != nil {
		return nil, false
	}
	v, err := resolve(path, d.data)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (d *Document) parse(name string) ([]Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if path, ok := d.paths[name]; ok {
		return path, nil
	}
	path, err := ParsePath(name)
	if err != nil {
		return nil, err
	}
	if d.paths == nil {
		d.paths = make(map[string][]Segment)
	}
	d.paths[name] = path
	return path, nil
}

// readIdentity returns the integral identity field, or fallback.
func (d *Document) readIdentity(fallback int64) int64 {
	switch id := normalize(d.data[d.identityField]).(type) {
	case int64:
		return id
	case float64:
		return int64(id)
	}
	return fallback
}

// normalize maps decoded JSON numbers to int64 or float64.
func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	}
	return v
}
