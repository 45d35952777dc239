package server

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PositionVault/internal/query"
)

// AuditReader reads the persisted command log. *query.Service satisfies it.
type AuditReader interface {
	ListJournals(ctx context.Context, f query.JournalFilter) ([]query.JournalEntry, error)
	GetLogInfo(ctx context.Context) (*query.LogInfo, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

type ListJournalsRequest struct {
	Holder         string `json:"holder,omitempty"`
	Mint           string `json:"mint,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalEntry `json:"journals"`
}

type GetEventLogInfoRequest struct{}

type VerifyIntegrityRequest struct{}

func (s *vaultServiceImpl) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	if s.audit == nil {
		return nil, status.Error(codes.Unimplemented, "event log is not configured")
	}
	if req.Holder != "" {
		if _, err := parseKey("holder", req.Holder); err != nil {
			return nil, err
		}
	}
	if req.Mint != "" {
		if _, err := parseKey("mint", req.Mint); err != nil {
			return nil, err
		}
	}
	if req.BeforeSequence < 0 {
		return nil, status.Error(codes.InvalidArgument, "before_sequence must not be negative")
	}

	filter := query.JournalFilter{
		Holder:         req.Holder,
		Mint:           req.Mint,
		BeforeSequence: req.BeforeSequence,
		Limit:          query.ClampLimit(req.Limit),
	}
	journals, err := s.audit.ListJournals(ctx, filter)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list journals: %v", err)
	}
	return &ListJournalsResponse{Journals: journals}, nil
}

func (s *vaultServiceImpl) GetEventLogInfo(ctx context.Context, _ *GetEventLogInfoRequest) (*query.LogInfo, error) {
	if s.audit == nil {
		return nil, status.Error(codes.Unimplemented, "event log is not configured")
	}
	info, err := s.audit.GetLogInfo(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "log info: %v", err)
	}
	return info, nil
}

func (s *vaultServiceImpl) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	if s.audit == nil {
		return nil, status.Error(codes.Unimplemented, "event log is not configured")
	}
	report, err := s.audit.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}
