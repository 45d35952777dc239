package server

import (
	"context"
	"fmt"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PositionVault/internal/amm"
	"PositionVault/internal/vault"
)

func TestStatusFromError_Categories(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"exceeds liquidity", errorsmod.Wrap(vault.ErrExceedsLiquidity, "requested 10"), codes.FailedPrecondition},
		{"already initialized", errorsmod.Wrap(vault.ErrAlreadyInitialized, "custody"), codes.AlreadyExists},
		{"missing slippage bound", vault.ErrMissingSlippageBound, codes.InvalidArgument},
		{"invalid amount", vault.ErrInvalidAmount, codes.InvalidArgument},
		{"position not found", errorsmod.Wrap(vault.ErrPositionNotFound, "mint"), codes.NotFound},
		{"external failure", fmt.Errorf("%w: %w", vault.ErrExternalCallFailed, amm.ErrPositionAuthority), codes.Unavailable},
		{"slippage", fmt.Errorf("%w: %w", vault.ErrExternalCallFailed, amm.ErrSlippageExceeded), codes.Aborted},
		{"canceled", fmt.Errorf("process: %w", context.Canceled), codes.Canceled},
		{"plain error", fmt.Errorf("boom"), codes.Internal},
		{"explicit status", status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, status.Code(statusFromError(tc.err)))
		})
	}
	assert.NoError(t, statusFromError(nil))
}
