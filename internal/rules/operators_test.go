package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/annotator/internal/types"
)

func TestParseOperator(t *testing.T) {
	tests := []struct {
		name string
		want Operator
	}{
		{"Equal", OpEqual},
		{"notequal", OpNotEqual},
		{"GreaterThanOrEqual", OpGreaterThanOrEqual},
		{"RegExMatch", OpPatternMatch},
		{"PatternMatch", OpPatternMatch},
		{"AND", OpAnd},
		{"Exists", OpExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOperator(tt.name)
			if err != nil {
				t.Fatalf("ParseOperator(%q) error = %v, want nil", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseOperator(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if _, err := ParseOperator("Contains"); !errors.Is(err, types.ErrUnknownOperator) {
		t.Errorf("ParseOperator(Contains) error = %v, want ErrUnknownOperator", err)
	}
}

func TestOperatorCodes(t *testing.T) {
	binary := []Operator{OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual, OpPatternMatch}
	for want, op := range binary {
		got, err := BinaryOperatorFromCode(want)
		if err != nil {
			t.Fatalf("BinaryOperatorFromCode(%d) error = %v, want nil", want, err)
		}
		if got != op {
			t.Errorf("BinaryOperatorFromCode(%d) = %v, want %v", want, got, op)
		}
		if code, ok := op.Code(); !ok || code != want {
			t.Errorf("%v.Code() = %d, %v, want %d, true", op, code, ok, want)
		}
	}

	exists, err := SetOperatorFromCode(6)
	if err != nil || exists != OpExists {
		t.Errorf("SetOperatorFromCode(6) = %v, %v, want Exists, nil", exists, err)
	}
	if _, err := SetOperatorFromCode(0); !errors.Is(err, types.ErrUnknownOperator) {
		t.Errorf("SetOperatorFromCode(0) error = %v, want ErrUnknownOperator", err)
	}
	if _, err := BinaryOperatorFromCode(42); !errors.Is(err, types.ErrUnknownOperator) {
		t.Errorf("BinaryOperatorFromCode(42) error = %v, want ErrUnknownOperator", err)
	}
	if _, ok := OpAnd.Code(); ok {
		t.Errorf("And.Code() ok = true, want false")
	}
}

func TestCompare(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.MustParse("355b1e71-5977-4276-bc5a-5700357a0abc")

	tests := []struct {
		name   string
		op     Operator
		value  any
		target any
		want   bool
	}{
		{"equal strings ignore case", OpEqual, "NTDLL.dll", "ntdll.dll", true},
		{"not equal strings ignore case", OpNotEqual, "ntdll.dll", "NTDLL.DLL", false},
		{"equal strings differ", OpEqual, "kernel32", "ntdll", false},
		{"int32 against int64", OpEqual, int32(5), int64(5), true},
		{"uint64 against int64", OpGreaterThan, uint64(7), int64(5), true},
		{"float against int", OpLessThan, 4.5, int64(5), true},
		{"greater or equal at boundary", OpGreaterThanOrEqual, int64(5), int64(5), true},
		{"less or equal above", OpLessThanOrEqual, int64(6), int64(5), false},
		{"ordered strings", OpLessThan, "abc", "abd", true},
		{"nil target orders below", OpGreaterThan, "x", nil, true},
		{"bool equality", OpEqual, true, true, true},
		{"time ordering", OpLessThan, now, now.Add(time.Hour), true},
		{"uuid equality", OpEqual, id, id, true},
		{"pattern matches", OpPatternMatch, "ntdll!RtlRaiseException", `^ntdll!Rtl`, true},
		{"pattern against number text", OpPatternMatch, int64(1234), `^12`, true},
		{"pattern misses", OpPatternMatch, "kernel32!Sleep", `^ntdll`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.op, tt.value, tt.target)
			if err != nil {
				t.Fatalf("Compare() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%v, %v, %v) = %v, want %v", tt.op, tt.value, tt.target, got, tt.want)
			}
		})
	}
}

func TestCompare_Errors(t *testing.T) {
	tests := []struct {
		name    string
		op      Operator
		value   any
		target  any
		wantErr error
	}{
		{"string against int", OpGreaterThan, "5", int64(5), types.ErrIncomparable},
		{"bool against string", OpLessThan, true, "true", types.ErrIncomparable},
		{"bad pattern", OpPatternMatch, "x", "(", types.ErrInvalidPattern},
		{"logical operator", OpAnd, "x", "x", types.ErrUnknownOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compare(tt.op, tt.value, tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compare() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompare_PropertyOrderingConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("GreaterThanOrEqual is the negation of LessThan", prop.ForAll(
		func(a, b int64) bool {
			ge, err1 := Compare(OpGreaterThanOrEqual, a, b)
			lt, err2 := Compare(OpLessThan, a, b)
			return err1 == nil && err2 == nil && ge == !lt
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("LessThanOrEqual is the negation of GreaterThan", prop.ForAll(
		func(a, b float64) bool {
			le, err1 := Compare(OpLessThanOrEqual, a, b)
			gt, err2 := Compare(OpGreaterThan, a, b)
			return err1 == nil && err2 == nil && le == !gt
		},
		gen.Float64Range(-1e9, 1e9),
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("Equal on strings ignores case", prop.ForAll(
		func(s string) bool {
			eq, err := Compare(OpEqual, s, swapCase(s))
			return err == nil && eq
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func swapCase(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z':
			out[i] = c - 'A' + 'a'
		}
	}
	return string(out)
}
