package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// requestBuilder turns an HTTP request into the gRPC request message.
type requestBuilder func(r *http.Request, params map[string]string) (any, error)

type route struct {
	method   string
	pattern  string
	rpc      string
	build    requestBuilder
	response func() any
}

// NewGatewayMux maps the HTTP/JSON routes onto VaultService calls over conn.
func NewGatewayMux(conn grpc.ClientConnInterface) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{"POST", "/v1/vaults", "Initialize", commandBody(""), func() any { return new(CommandResponse) }},
		{"POST", "/v1/vaults/{nonce}/deposit", "Deposit", commandBody("nonce"), func() any { return new(CommandResponse) }},
		{"POST", "/v1/vaults/{nonce}/withdraw", "Withdraw", commandBody("nonce"), func() any { return new(CommandResponse) }},
		{"GET", "/v1/vaults/{nonce}", "GetVault", getVault, func() any { return new(json.RawMessage) }},
		{"GET", "/v1/vaults/{nonce}/quote", "QuoteWithdraw", quoteWithdraw, func() any { return new(json.RawMessage) }},
		{"GET", "/v1/accounts/{account}/balance", "GetBalance", getBalance, func() any { return new(GetBalanceResponse) }},
		{"GET", "/v1/mints/{mint}/supply", "GetTotalSupply", getTotalSupply, func() any { return new(GetTotalSupplyResponse) }},
		{"GET", "/v1/positions/{position_mint}", "GetPositionData", getPositionData, func() any { return new(json.RawMessage) }},
		{"GET", "/v1/journals", "ListJournals", listJournals, func() any { return new(json.RawMessage) }},
		{"GET", "/v1/admin/log", "GetEventLogInfo", empty[GetEventLogInfoRequest], func() any { return new(json.RawMessage) }},
		{"GET", "/v1/admin/integrity", "VerifyIntegrity", empty[VerifyIntegrityRequest], func() any { return new(json.RawMessage) }},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, proxy(conn, rt)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func proxy(conn grpc.ClientConnInterface, rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req, err := rt.build(r, params)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := rt.response()
		if err := conn.Invoke(r.Context(), FullMethod(rt.rpc), req, resp, grpc.CallContentSubtype(CodecName)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// commandBody forwards the JSON body, filling pathField from the URL when
// the body leaves it out.
func commandBody(pathField string) requestBuilder {
	return func(r *http.Request, params map[string]string) (any, error) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
		}
		if pathField == "" {
			raw := json.RawMessage(body)
			return &raw, nil
		}

		fields := map[string]json.RawMessage{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode body: %v", err)
			}
		}
		if _, ok := fields[pathField]; !ok {
			v, _ := json.Marshal(params[pathField])
			fields[pathField] = v
		}
		merged, err := json.Marshal(fields)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode body: %v", err)
		}
		raw := json.RawMessage(merged)
		return &raw, nil
	}
}

func getVault(_ *http.Request, params map[string]string) (any, error) {
	return &GetVaultRequest{Nonce: params["nonce"]}, nil
}

func quoteWithdraw(r *http.Request, params map[string]string) (any, error) {
	q := r.URL.Query()
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}
	var bps uint64
	if s := q.Get("slippage_bps"); s != "" {
		if bps, err = strconv.ParseUint(s, 10, 16); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid slippage_bps: %v", err)
		}
	}
	return &QuoteWithdrawRequest{Nonce: params["nonce"], Amount: amount, SlippageBps: uint16(bps)}, nil
}

func getBalance(_ *http.Request, params map[string]string) (any, error) {
	return &GetBalanceRequest{Account: params["account"]}, nil
}

func getTotalSupply(_ *http.Request, params map[string]string) (any, error) {
	return &GetTotalSupplyRequest{Mint: params["mint"]}, nil
}

func getPositionData(_ *http.Request, params map[string]string) (any, error) {
	return &GetPositionDataRequest{PositionMint: params["position_mint"]}, nil
}

func listJournals(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()
	req := &ListJournalsRequest{Holder: q.Get("holder"), Mint: q.Get("mint")}
	if s := q.Get("before"); s != "" {
		before, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before: %v", err)
		}
		req.BeforeSequence = before
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err)
		}
		req.Limit = limit
	}
	return req, nil
}

func empty[T any](_ *http.Request, _ map[string]string) (any, error) {
	return new(T), nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
