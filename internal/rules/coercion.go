// internal/rules/coercion.go
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

/*
 * Value types and coercion of stored comparison values.
 *
 * Rows store every comparison value as text next to the name of its value
 * type. Historic rows use runtime type names ("System.Int32"); newer rows may
 * use short names ("int32"). Both resolve to the same ValueType.
 *
 * Object and collection types never carry a comparison value: a row typed
 * that way is a quantifier over a nested collection.
 *
 * Coerced representations:
 *   - String: string
 *   - Int32, Int64: int64 (Int32 range-checked)
 *   - Double: float64
 *   - Boolean: bool
 *   - DateTime: time.Time (UTC when no zone is given)
 *   - Guid: uuid.UUID
 */

// ValueType is the declared type of a comparison value.
type ValueType int

const (
	ValueTypeUnspecified ValueType = iota
	ValueTypeString
	ValueTypeInt32
	ValueTypeInt64
	ValueTypeDouble
	ValueTypeBoolean
	ValueTypeDateTime
	ValueTypeGuid
	ValueTypeObject
	ValueTypeCollection
)

var valueTypeNames = map[ValueType]string{
	ValueTypeString:     "System.String",
	ValueTypeInt32:      "System.Int32",
	ValueTypeInt64:      "System.Int64",
	ValueTypeDouble:     "System.Double",
	ValueTypeBoolean:    "System.Boolean",
	ValueTypeDateTime:   "System.DateTime",
	ValueTypeGuid:       "System.Guid",
	ValueTypeObject:     "System.Object",
	ValueTypeCollection: "System.Collections.IEnumerable",
}

var valueTypeAliases = map[string]ValueType{
	"string":     ValueTypeString,
	"text":       ValueTypeString,
	"int":        ValueTypeInt32,
	"int32":      ValueTypeInt32,
	"int64":      ValueTypeInt64,
	"long":       ValueTypeInt64,
	"double":     ValueTypeDouble,
	"float":      ValueTypeDouble,
	"bool":       ValueTypeBoolean,
	"boolean":    ValueTypeBoolean,
	"datetime":   ValueTypeDateTime,
	"timestamp":  ValueTypeDateTime,
	"guid":       ValueTypeGuid,
	"uuid":       ValueTypeGuid,
	"object":     ValueTypeObject,
	"collection": ValueTypeCollection,
	"enumerable": ValueTypeCollection,
}

func init() {
	for vt, name := range valueTypeNames {
		valueTypeAliases[strings.ToLower(name)] = vt
	}
	valueTypeAliases["system.datetimeoffset"] = ValueTypeDateTime
	valueTypeAliases["system.single"] = ValueTypeDouble
}

// String returns the stored name of the value type.
func (vt ValueType) String() string {
	if name, ok := valueTypeNames[vt]; ok {
		return name
	}
	return "Unspecified"
}

// IsNested reports whether the type addresses nested facts rather than a scalar.
func (vt ValueType) IsNested() bool {
	return vt == ValueTypeObject || vt == ValueTypeCollection
}

// ParseValueType resolves a stored value type name. Runtime type names may
// carry an assembly qualifier ("System.Int32, mscorlib"), which is ignored.
func ParseValueType(name string) (ValueType, error) {
	key := strings.TrimSpace(name)
	if i := strings.IndexByte(key, ','); i >= 0 {
		key = strings.TrimSpace(key[:i])
	}
	vt, ok := valueTypeAliases[strings.ToLower(key)]
	if !ok {
		return ValueTypeUnspecified, fmt.Errorf("%w: %q", types.ErrUnknownValueType, name)
	}
	return vt, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
}

// Coerce converts a stored textual value to the representation of vt.
// A nil raw value coerces to nil for every type.
func Coerce(raw *string, vt ValueType) (any, error) {
	if raw == nil {
		return nil, nil
	}
	s := *raw

	switch vt {
	case ValueTypeString:
		return s, nil
	case ValueTypeInt32:
		return parseInt(s, 32)
	case ValueTypeInt64:
		return parseInt(s, 64)
	case ValueTypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", types.ErrCoercionFailed, s, vt)
		}
		return f, nil
	case ValueTypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", types.ErrCoercionFailed, s, vt)
		}
		return b, nil
	case ValueTypeDateTime:
		trimmed := strings.TrimSpace(s)
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%w: %q as %s", types.ErrCoercionFailed, s, vt)
	case ValueTypeGuid:
		u, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", types.ErrCoercionFailed, s, vt)
		}
		return u, nil
	case ValueTypeObject, ValueTypeCollection:
		// Nested types carry no comparison value.
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownValueType, vt)
	}
}

func parseInt(s string, bitSize int) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, bitSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %q as %d-bit integer", types.ErrCoercionFailed, s, bitSize)
	}
	return n, nil
}

// FormatValue renders a comparison value back to its stored text and infers
// its value type. nil yields a nil text pointer.
func FormatValue(v any) (*string, ValueType, error) {
	var s string
	var vt ValueType

	switch t := v.(type) {
	case nil:
		return nil, ValueTypeString, nil
	case string:
		s, vt = t, ValueTypeString
	case int32:
		s, vt = strconv.FormatInt(int64(t), 10), ValueTypeInt32
	case int:
		s, vt = strconv.Itoa(t), ValueTypeInt64
	case int64:
		s, vt = strconv.FormatInt(t, 10), ValueTypeInt64
	case float32:
		s, vt = strconv.FormatFloat(float64(t), 'g', -1, 32), ValueTypeDouble
	case float64:
		s, vt = strconv.FormatFloat(t, 'g', -1, 64), ValueTypeDouble
	case bool:
		s, vt = strconv.FormatBool(t), ValueTypeBoolean
	case time.Time:
		s, vt = t.Format(time.RFC3339Nano), ValueTypeDateTime
	case uuid.UUID:
		s, vt = t.String(), ValueTypeGuid
	default:
		return nil, ValueTypeUnspecified, fmt.Errorf("%w: cannot store %T", types.ErrUnknownValueType, v)
	}
	return &s, vt, nil
}

// valueTypeOf infers the value type of an in-memory comparison value.
func valueTypeOf(v any) (ValueType, error) {
	_, vt, err := FormatValue(v)
	return vt, err
}

// normalizeValue brings a programmatic comparison value to the coerced
// representation: Go integer kinds widen to int64, float32 to float64.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
