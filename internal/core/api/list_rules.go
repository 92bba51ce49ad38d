package api

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ListRules returns the loaded rules in evaluation order:
// {"rules": [{rule_id, legacy_id, author, created_at, inactive, expression}]}.
func (s *Service) ListRules(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	loaded := s.currentEngine().Rules()

	list := make([]any, 0, len(loaded))
	for _, r := range loaded {
		if err := ctx.Err(); err != nil {
			return nil, toStatus(err)
		}
		list = append(list, map[string]any{
			"rule_id":    r.ID.String(),
			"legacy_id":  r.LegacyID,
			"author":     r.Author,
			"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
			"inactive":   r.Inactive(),
			"expression": r.String(),
		})
	}

	resp, err := structpb.NewStruct(map[string]any{"rules": list})
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err))
	}
	return resp, nil
}
