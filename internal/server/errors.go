package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PositionVault/internal/amm"
	"PositionVault/internal/vault"
)

// statusFromError maps vault errors onto gRPC codes by category. Registered
// errorsmod errors carry their own GRPCStatus with codes.Unknown, so only a
// status with a real code passes through unchanged.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, amm.ErrSlippageExceeded):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrMissingSlippageBound):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	switch vault.CategoryOf(err) {
	case vault.CategoryConfiguration, vault.CategoryPrecondition:
		return status.Error(codes.FailedPrecondition, err.Error())
	case vault.CategoryNotFound:
		return status.Error(codes.NotFound, err.Error())
	case vault.CategoryExternal:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
