// internal/facts/document/path.go
package document

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

/*
 * Attribute path resolution for JSON documents.
 *
 * Paths are dotted keys with optional array indices: "thread.frames[0].name".
 * A "*" segment (or "[*]") matches any object key or array element with ANY
 * semantics: the first element under which the rest of the path resolves
 * wins. Object keys are visited in sorted order so the result is stable.
 *
 * Limits: MaxPathDepth segments, MaxWildcards wildcard segments.
 */

// Resolution limits.
const (
	MaxPathDepth = 16
	MaxWildcards = 2
)

var (
	// ErrInvalidPath indicates an attribute path that cannot be parsed.
	ErrInvalidPath = errors.New("invalid attribute path")

	// ErrPathTooDeep indicates a path longer than MaxPathDepth.
	ErrPathTooDeep = errors.New("attribute path exceeds maximum depth")

	// ErrTooManyWildcards indicates more than MaxWildcards wildcards.
	ErrTooManyWildcards = errors.New("attribute path has too many wildcards")

	errNotFound = errors.New("path not found")
)

// Segment is one step of a parsed path.
type Segment struct {
	Key      string
	Index    int
	IsIndex  bool
	Wildcard bool
}

func (s Segment) String() string {
	switch {
	case s.Wildcard:
		return "*"
	case s.IsIndex:
		return "[" + strconv.Itoa(s.Index) + "]"
	default:
		return s.Key
	}
}

// ParsePath splits a path into segments and enforces the resolution limits.
func ParsePath(path string) ([]Segment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var segs []Segment
	for _, part := range strings.Split(path, ".") {
		key, rest, _ := strings.Cut(part, "[")
		switch {
		case key == "*":
			segs = append(segs, Segment{Wildcard: true})
		case key != "":
			segs = append(segs, Segment{Key: key})
		case rest == "":
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}

		for rest != "" {
			idx, after, ok := strings.Cut(rest, "]")
			if !ok {
				return nil, fmt.Errorf("%w: unclosed index in %q", ErrInvalidPath, path)
			}
			if idx == "*" {
				segs = append(segs, Segment{Wildcard: true})
			} else {
				n, err := strconv.Atoi(idx)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("%w: bad index %q in %q", ErrInvalidPath, idx, path)
				}
				segs = append(segs, Segment{Index: n, IsIndex: true})
			}
			if after == "" {
				break
			}
			if after[0] != '[' {
				return nil, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidPath, after, path)
			}
			rest = after[1:]
		}
	}

	if len(segs) > MaxPathDepth {
		return nil, ErrPathTooDeep
	}
	wildcards := 0
	for _, s := range segs {
		if s.Wildcard {
			wildcards++
		}
	}
	if wildcards > MaxWildcards {
		return nil, ErrTooManyWildcards
	}
	return segs, nil
}

// resolve follows path through decoded JSON. It reports errNotFound for
// paths that do not exist, including paths that continue past a scalar.
func resolve(path []Segment, current any) (any, error) {
	if len(path) == 0 {
		return current, nil
	}
	seg, remaining := path[0], path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if found, err := resolve(remaining, v[k]); err == nil {
					return found, nil
				}
			}
			return nil, errNotFound
		}
		if seg.IsIndex {
			return nil, errNotFound
		}
		val, ok := v[seg.Key]
		if !ok {
			return nil, errNotFound
		}
		return resolve(remaining, val)

	case []any:
		if seg.Wildcard {
			for _, elem := range v {
				if found, err := resolve(remaining, elem); err == nil {
					return found, nil
				}
			}
			return nil, errNotFound
		}
		if !seg.IsIndex || seg.Index >= len(v) {
			return nil, errNotFound
		}
		return resolve(remaining, v[seg.Index])

	default:
		return nil, errNotFound
	}
}
