package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/annotator/internal/facts/document"
	"github.com/solatis/annotator/internal/rules"
	"github.com/solatis/annotator/internal/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request fields of Annotate.
const (
	fieldFact          = "fact"
	fieldType          = "type"
	fieldIdentityField = "identity_field"
)

// Annotate evaluates the request's fact against every loaded rule.
//
// Request:  {"fact": {...}, "type": "Model/Object", "identity_field": "Id"}
// Response: {"matches": [{rule_id, legacy_id, result, elapsed_ms}],
//
//	"errors": [{rule_id, legacy_id, error}]}
//
// Per-rule failures are reported in "errors" and never fail the call.
func (s *Service) Annotate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fact, err := s.decodeFact(req)
	if err != nil {
		return nil, toStatus(err)
	}

	if s.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.evalTimeout)
		defer cancel()
	}

	outcomes := s.currentEngine().Evaluate(ctx, fact)
	if err := ctx.Err(); err != nil {
		return nil, toStatus(err)
	}

	matches := make([]any, 0)
	failures := make([]any, 0)
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			s.logger.WarnContext(ctx, "rule evaluation failed",
				slog.Int64("rule", o.Rule.LegacyID),
				slog.String("error", o.Err.Error()))
			failures = append(failures, map[string]any{
				"rule_id":   o.Rule.ID.String(),
				"legacy_id": o.Rule.LegacyID,
				"error":     o.Err.Error(),
			})
		case o.Result != nil:
			matches = append(matches, map[string]any{
				"rule_id":    o.Rule.ID.String(),
				"legacy_id":  o.Rule.LegacyID,
				"result":     rules.ResultToMap(o.Result),
				"text":       o.Result.String(),
				"elapsed_ms": float64(o.Elapsed.Microseconds()) / 1000,
			})
		}
	}

	resp, err := structpb.NewStruct(map[string]any{
		"matches": matches,
		"errors":  failures,
	})
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err))
	}
	return resp, nil
}

// decodeFact builds a document fact from the request.
func (s *Service) decodeFact(req *structpb.Struct) (types.Fact, error) {
	fields := req.GetFields()
	factValue, ok := fields[fieldFact]
	if !ok || factValue.GetStructValue() == nil {
		return nil, fmt.Errorf("%w: request needs a %q object", types.ErrInvalidFact, fieldFact)
	}

	var opts []document.Option
	if v, ok := fields[fieldType]; ok && v.GetStringValue() != "" {
		t, err := s.registry.Resolve(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		opts = append(opts, document.WithType(t))
	}
	if v, ok := fields[fieldIdentityField]; ok {
		opts = append(opts, document.WithIdentityField(v.GetStringValue()))
	}

	return document.New(factValue.GetStructValue().AsMap(), opts...), nil
}
