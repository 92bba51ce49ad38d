package api

import (
	"context"
	"errors"

	"github.com/solatis/annotator/internal/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps errors onto gRPC codes:
// bad facts and unknown types are INVALID_ARGUMENT, context expiry keeps
// its own code, everything else is INTERNAL.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	case errors.Is(err, types.ErrInvalidFact), errors.Is(err, types.ErrUnknownType):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
