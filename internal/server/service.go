package server

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PositionVault/internal/core"
	"PositionVault/internal/event"
	"PositionVault/internal/ingestion"
	"PositionVault/internal/query"
	"PositionVault/internal/vault"
)

const ServiceName = "positionvault.v1.VaultService"

// CommandProcessor applies commands. *core.Processor satisfies it.
type CommandProcessor interface {
	Process(ctx context.Context, evt event.Event) (*core.Outcome, error)
}

// VaultReader serves read-only queries. *vault.Service satisfies it.
type VaultReader interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTotalSupply(ctx context.Context, mint solana.PublicKey) (uint64, error)
	GetPositionData(ctx context.Context, positionMint solana.PublicKey) (vault.PositionData, error)
	GetVault(ctx context.Context, nonce []byte) (vault.VaultRecord, error)
	QuoteWithdraw(ctx context.Context, nonce []byte, amount uint64, slippageBps uint16) (vault.WithdrawQuote, error)
}

// ============================================================================
// Messages
// ============================================================================

// Command requests share the NATS wire format, so they travel as raw JSON
// and go through ingestion.ParseRawEvent.

type CommandResponse struct {
	Sequence  int64           `json:"sequence"`
	Duplicate bool            `json:"duplicate"`
	StateHash string          `json:"state_hash"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type GetBalanceRequest struct {
	Account string `json:"account"`
}

type GetBalanceResponse struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

type GetTotalSupplyRequest struct {
	Mint string `json:"mint"`
}

type GetTotalSupplyResponse struct {
	Mint   string `json:"mint"`
	Supply uint64 `json:"supply"`
}

type GetPositionDataRequest struct {
	PositionMint string `json:"position_mint"`
}

type GetVaultRequest struct {
	Nonce string `json:"nonce"`
}

type QuoteWithdrawRequest struct {
	Nonce       string `json:"nonce"`
	Amount      uint64 `json:"amount"`
	SlippageBps uint16 `json:"slippage_bps"`
}

// ============================================================================
// Service
// ============================================================================

// VaultServiceServer is the server API for positionvault.v1.VaultService.
type VaultServiceServer interface {
	Initialize(context.Context, *json.RawMessage) (*CommandResponse, error)
	Deposit(context.Context, *json.RawMessage) (*CommandResponse, error)
	Withdraw(context.Context, *json.RawMessage) (*CommandResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	GetTotalSupply(context.Context, *GetTotalSupplyRequest) (*GetTotalSupplyResponse, error)
	GetPositionData(context.Context, *GetPositionDataRequest) (*vault.PositionData, error)
	GetVault(context.Context, *GetVaultRequest) (*vault.VaultRecord, error)
	QuoteWithdraw(context.Context, *QuoteWithdrawRequest) (*vault.WithdrawQuote, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	GetEventLogInfo(context.Context, *GetEventLogInfoRequest) (*query.LogInfo, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

// VaultServiceDesc is registered by hand in place of protoc output.
var VaultServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Initialize", VaultServiceServer.Initialize),
		unary("Deposit", VaultServiceServer.Deposit),
		unary("Withdraw", VaultServiceServer.Withdraw),
		unary("GetBalance", VaultServiceServer.GetBalance),
		unary("GetTotalSupply", VaultServiceServer.GetTotalSupply),
		unary("GetPositionData", VaultServiceServer.GetPositionData),
		unary("GetVault", VaultServiceServer.GetVault),
		unary("QuoteWithdraw", VaultServiceServer.QuoteWithdraw),
		unary("ListJournals", VaultServiceServer.ListJournals),
		unary("GetEventLogInfo", VaultServiceServer.GetEventLogInfo),
		unary("VerifyIntegrity", VaultServiceServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "positionvault/v1/vault.proto",
}

// FullMethod returns the gRPC path of a VaultService method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(VaultServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(VaultServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(VaultServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RegisterVaultServiceServer registers impl on s.
func RegisterVaultServiceServer(s grpc.ServiceRegistrar, impl VaultServiceServer) {
	s.RegisterService(&VaultServiceDesc, impl)
}

type vaultServiceImpl struct {
	commands CommandProcessor
	reader   VaultReader
	audit    AuditReader
}

// NewVaultService binds the gRPC surface to the command processor and the
// read path. audit may be nil; the log methods then report Unimplemented.
func NewVaultService(commands CommandProcessor, reader VaultReader, audit AuditReader) VaultServiceServer {
	return &vaultServiceImpl{commands: commands, reader: reader, audit: audit}
}

func (s *vaultServiceImpl) Initialize(ctx context.Context, req *json.RawMessage) (*CommandResponse, error) {
	return s.submit(ctx, req, "InitializeVault")
}

func (s *vaultServiceImpl) Deposit(ctx context.Context, req *json.RawMessage) (*CommandResponse, error) {
	return s.submit(ctx, req, "DepositPosition")
}

func (s *vaultServiceImpl) Withdraw(ctx context.Context, req *json.RawMessage) (*CommandResponse, error) {
	return s.submit(ctx, req, "WithdrawLiquidity")
}

func (s *vaultServiceImpl) submit(ctx context.Context, req *json.RawMessage, eventType string) (*CommandResponse, error) {
	if req == nil || len(*req) == 0 {
		return nil, status.Error(codes.InvalidArgument, "request body is required")
	}
	evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Subject: FullMethod(eventType), Data: *req}, eventType)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parse %s: %v", eventType, err)
	}

	outcome, err := s.commands.Process(ctx, evt)
	if err != nil {
		return nil, statusFromError(err)
	}

	resp := &CommandResponse{
		Sequence:  outcome.Sequence,
		Duplicate: outcome.Duplicate,
		StateHash: hex.EncodeToString(outcome.StateHash[:]),
	}
	if outcome.Result != nil {
		if resp.Result, err = json.Marshal(outcome.Result); err != nil {
			return nil, status.Errorf(codes.Internal, "encode result: %v", err)
		}
	}
	return resp, nil
}

func (s *vaultServiceImpl) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	account, err := parseKey("account", req.Account)
	if err != nil {
		return nil, err
	}
	amount, err := s.reader.GetBalance(ctx, account)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &GetBalanceResponse{Account: req.Account, Amount: amount}, nil
}

func (s *vaultServiceImpl) GetTotalSupply(ctx context.Context, req *GetTotalSupplyRequest) (*GetTotalSupplyResponse, error) {
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		return nil, err
	}
	supply, err := s.reader.GetTotalSupply(ctx, mint)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &GetTotalSupplyResponse{Mint: req.Mint, Supply: supply}, nil
}

func (s *vaultServiceImpl) GetPositionData(ctx context.Context, req *GetPositionDataRequest) (*vault.PositionData, error) {
	mint, err := parseKey("position_mint", req.PositionMint)
	if err != nil {
		return nil, err
	}
	data, err := s.reader.GetPositionData(ctx, mint)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &data, nil
}

func (s *vaultServiceImpl) GetVault(ctx context.Context, req *GetVaultRequest) (*vault.VaultRecord, error) {
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		return nil, err
	}
	record, err := s.reader.GetVault(ctx, nonce)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &record, nil
}

func (s *vaultServiceImpl) QuoteWithdraw(ctx context.Context, req *QuoteWithdrawRequest) (*vault.WithdrawQuote, error) {
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		return nil, err
	}
	if req.SlippageBps > 10_000 {
		return nil, status.Errorf(codes.InvalidArgument, "slippage_bps %d exceeds 10000", req.SlippageBps)
	}
	quote, err := s.reader.QuoteWithdraw(ctx, nonce, req.Amount, req.SlippageBps)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &quote, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseKey(field, s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return key, nil
}

func parseNonce(s string) ([]byte, error) {
	if s == "" {
		return nil, status.Error(codes.InvalidArgument, "nonce is required")
	}
	nonce, err := event.ParseNonce(s)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid nonce: %v", err)
	}
	return nonce, nil
}
