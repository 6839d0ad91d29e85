package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"VaultLedger/internal/access"
	"VaultLedger/internal/manager"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"
	"VaultLedger/internal/settlement"
	"VaultLedger/internal/vault"
)

// HTTPServer is the JSON API: liquidity and governance calls go through
// the processor, queries hit the projection tables. Settlement traffic
// (payouts, payins, prices) arrives over NATS only.
type HTTPServer struct {
	proc    *settlement.Processor
	vlt     *vault.Vault
	acct    *manager.Manager
	qs      *query.QueryService
	gate    *access.StaticGate
	db      *sql.DB
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger

	httpServer *http.Server
	addr       string
}

// HTTPDeps bundles the wiring for NewHTTPServer.
type HTTPDeps struct {
	Processor     *settlement.Processor
	Vault         *vault.Vault
	Accountant    *manager.Manager
	QueryService  *query.QueryService
	Gate          *access.StaticGate
	DB            *sql.DB
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

func NewHTTPServer(addr string, deps HTTPDeps) *HTTPServer {
	return &HTTPServer{
		proc:    deps.Processor,
		vlt:     deps.Vault,
		acct:    deps.Accountant,
		qs:      deps.QueryService,
		gate:    deps.Gate,
		db:      deps.DB,
		health:  deps.HealthChecker,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		addr:    addr,
	}
}

// Start serves until the context is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.health != nil {
		httpMux.HandleFunc("/healthz", s.health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.health.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		// Liquidity
		{http.MethodPost, "/v1/liquidity/add", s.handleAddLiquidity},
		{http.MethodPost, "/v1/liquidity/remove", s.handleRemoveLiquidity},
		{http.MethodPost, "/v1/swap", s.handleSwap},
		{http.MethodPost, "/v1/pool/deposit", s.handleDirectDeposit},
		{http.MethodPost, "/v1/fees/sweep", s.handleSweepFees},

		// Governance
		{http.MethodPost, "/v1/governance/assets", s.handleSetAssetConfig},
		{http.MethodDelete, "/v1/governance/assets/{asset}", s.handleClearAssetConfig},
		{http.MethodPost, "/v1/governance/fees", s.handleSetFees},
		{http.MethodPost, "/v1/governance/buffer", s.handleSetBuffer},
		{http.MethodPost, "/v1/governance/breaker/threshold", s.handleSetBreakerThreshold},
		{http.MethodPost, "/v1/governance/breaker/policy", s.handleSetBreakerPolicy},
		{http.MethodPost, "/v1/governance/breaker/reset", s.handleResetBreaker},
		{http.MethodPost, "/v1/governance/cooldown", s.handleSetCooldown},
		{http.MethodPost, "/v1/governance/collector", s.handleSetCollector},
		{http.MethodPost, "/v1/governance/aum", s.handleSetAumAdjustment},
		{http.MethodPost, "/v1/governance/pause", s.handlePause},

		// Queries
		{http.MethodGet, "/v1/vault/status", s.handleVaultStatus},
		{http.MethodGet, "/v1/vault/preview/deposit", s.handlePreviewDeposit},
		{http.MethodGet, "/v1/assets", s.handleListSheets},
		{http.MethodGet, "/v1/assets/{asset}", s.handleGetSheet},
		{http.MethodGet, "/v1/assets/{asset}/entries", s.handleEntryHistory},
		{http.MethodGet, "/v1/events", s.handleEventHistory},

		// Admin
		{http.MethodGet, "/v1/admin/integrity", s.handleVerifyIntegrity},
		{http.MethodPost, "/v1/admin/projections/rebuild", s.handleRebuildProjections},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// --- Liquidity handlers ---

type addLiquidityRequest struct {
	Funder    string `json:"funder"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	AmountIn  string `json:"amount_in"`
	MinUsdw   string `json:"min_usdw"`
	MinShares string `json:"min_shares"`
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleAddLiquidity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req addLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "add_liquidity", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "add_liquidity", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}
	amountIn, err := parsePositive(req.AmountIn, "amount_in")
	if err != nil {
		s.writeError(w, "add_liquidity", http.StatusBadRequest, err)
		return
	}
	minUsdw, err := parseNonNegative(req.MinUsdw, "min_usdw")
	if err != nil {
		s.writeError(w, "add_liquidity", http.StatusBadRequest, err)
		return
	}
	minShares, err := parseNonNegative(req.MinShares, "min_shares")
	if err != nil {
		s.writeError(w, "add_liquidity", http.StatusBadRequest, err)
		return
	}

	res, err := s.proc.Submit(r.Context(), &settlement.AddLiquidity{
		Funder:    req.Funder,
		Recipient: req.Recipient,
		Asset:     req.Asset,
		AmountIn:  amountIn,
		MinUsdw:   minUsdw,
		MinShares: minShares,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "add_liquidity", err)
		return
	}

	out := res.(*manager.AddLiquidityResult)
	s.writeJSON(w, "add_liquidity", http.StatusOK, map[string]any{
		"request_id":    requestID.String(),
		"usdw_minted":   bigStr(out.UsdwMinted),
		"shares_minted": bigStr(out.SharesMinted),
		"fee_bps":       out.FeeBps,
	})
}

type removeLiquidityRequest struct {
	Holder    string `json:"holder"`
	Receiver  string `json:"receiver"`
	Asset     string `json:"asset"`
	SharesIn  string `json:"shares_in"`
	MinOut    string `json:"min_out"`
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req removeLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "remove_liquidity", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "remove_liquidity", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}
	sharesIn, err := parsePositive(req.SharesIn, "shares_in")
	if err != nil {
		s.writeError(w, "remove_liquidity", http.StatusBadRequest, err)
		return
	}
	minOut, err := parseNonNegative(req.MinOut, "min_out")
	if err != nil {
		s.writeError(w, "remove_liquidity", http.StatusBadRequest, err)
		return
	}

	res, err := s.proc.Submit(r.Context(), &settlement.RemoveLiquidity{
		Holder:    req.Holder,
		Receiver:  req.Receiver,
		Asset:     req.Asset,
		SharesIn:  sharesIn,
		MinOut:    minOut,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "remove_liquidity", err)
		return
	}

	out := res.(*manager.RemoveLiquidityResult)
	s.writeJSON(w, "remove_liquidity", http.StatusOK, map[string]any{
		"request_id":  requestID.String(),
		"usdw_burned": bigStr(out.UsdwBurned),
		"amount_out":  bigStr(out.AmountOut),
		"fee_bps":     out.FeeBps,
	})
}

type swapRequest struct {
	Caller    string `json:"caller"`
	Receiver  string `json:"receiver"`
	AssetIn   string `json:"asset_in"`
	AssetOut  string `json:"asset_out"`
	AmountIn  string `json:"amount_in"`
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleSwap(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "swap", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "swap", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}
	amountIn, err := parsePositive(req.AmountIn, "amount_in")
	if err != nil {
		s.writeError(w, "swap", http.StatusBadRequest, err)
		return
	}

	res, err := s.proc.Submit(r.Context(), &settlement.Swap{
		Caller:    req.Caller,
		Receiver:  req.Receiver,
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		AmountIn:  amountIn,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "swap", err)
		return
	}

	out := res.(*vault.SwapResult)
	s.writeJSON(w, "swap", http.StatusOK, map[string]any{
		"request_id": requestID.String(),
		"amount_out": bigStr(out.AmountOut),
		"fee_bps":    out.FeeBps,
		"fee_amount": bigStr(out.FeeAmount),
	})
}

type directDepositRequest struct {
	Caller    string `json:"caller"`
	Funder    string `json:"funder"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleDirectDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req directDepositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "direct_deposit", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "direct_deposit", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}
	amount, err := parsePositive(req.Amount, "amount")
	if err != nil {
		s.writeError(w, "direct_deposit", http.StatusBadRequest, err)
		return
	}

	_, err = s.proc.Submit(r.Context(), &settlement.DirectDeposit{
		Caller:    req.Caller,
		Funder:    req.Funder,
		Asset:     req.Asset,
		Amount:    amount,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "direct_deposit", err)
		return
	}

	s.writeJSON(w, "direct_deposit", http.StatusOK, map[string]any{
		"request_id": requestID.String(),
		"status":     "ok",
	})
}

type sweepFeesRequest struct {
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleSweepFees(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req sweepFeesRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "sweep_fees", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "sweep_fees", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}

	res, err := s.proc.Submit(r.Context(), &settlement.SweepFees{
		Caller:    req.Caller,
		Asset:     req.Asset,
		Recipient: req.Recipient,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "sweep_fees", err)
		return
	}

	out := res.(*vault.FeeSweepResult)
	s.writeJSON(w, "sweep_fees", http.StatusOK, map[string]any{
		"request_id":    requestID.String(),
		"swap_fees":     bigStr(out.SwapFees),
		"wager_fees":    bigStr(out.WagerFees),
		"referral_fees": bigStr(out.ReferralFees),
		"cap_breached":  out.CapBreached,
	})
}

// --- Governance handlers ---

type setAssetConfigRequest struct {
	Caller    string `json:"caller"`
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	Decimals  int    `json:"decimals"`
	Weight    int64  `json:"weight"`
	IsStable  bool   `json:"is_stable"`
	MaxUsdw   string `json:"max_usdw,omitempty"`
}

func (s *HTTPServer) handleSetAssetConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setAssetConfigRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_asset_config", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "set_asset_config", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}

	maxUsdw := new(big.Int)
	if req.MaxUsdw != "" {
		maxUsdw, err = parseNonNegative(req.MaxUsdw, "max_usdw")
		if err != nil {
			s.writeError(w, "set_asset_config", http.StatusBadRequest, err)
			return
		}
	}

	_, err = s.proc.Submit(r.Context(), &settlement.SetAssetConfig{
		Caller: req.Caller,
		Config: vault.AssetConfig{
			Asset:    req.Asset,
			Decimals: req.Decimals,
			Weight:   req.Weight,
			IsStable: req.IsStable,
			MaxUsdw:  maxUsdw,
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "set_asset_config", err)
		return
	}

	s.writeJSON(w, "set_asset_config", http.StatusOK, map[string]any{
		"request_id": requestID.String(),
		"asset":      req.Asset,
		"status":     "ok",
	})
}

type governanceRequest struct {
	Caller    string `json:"caller"`
	RequestID string `json:"request_id"`
}

func (s *HTTPServer) handleClearAssetConfig(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	asset := pathParams["asset"]
	var req governanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "clear_asset_config", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "clear_asset_config", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}

	_, err = s.proc.Submit(r.Context(), &settlement.ClearAssetConfig{
		Caller:    req.Caller,
		Asset:     asset,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "clear_asset_config", err)
		return
	}

	s.writeJSON(w, "clear_asset_config", http.StatusOK, map[string]any{
		"request_id": requestID.String(),
		"asset":      asset,
		"status":     "delisted",
	})
}

func (s *HTTPServer) handleResetBreaker(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req governanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "reset_breaker", http.StatusBadRequest, err)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		s.writeError(w, "reset_breaker", http.StatusBadRequest, fmt.Errorf("request_id: %w", err))
		return
	}

	_, err = s.proc.Submit(r.Context(), &settlement.ResetBreaker{
		Caller:    req.Caller,
		RequestID: requestID,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "reset_breaker", err)
		return
	}

	s.writeJSON(w, "reset_breaker", http.StatusOK, map[string]any{
		"request_id": requestID.String(),
		"status":     "reset",
	})
}

type setFeesRequest struct {
	Caller           string `json:"caller"`
	TaxBps           int64  `json:"tax_bps"`
	StableTaxBps     int64  `json:"stable_tax_bps"`
	MintBurnFeeBps   int64  `json:"mint_burn_fee_bps"`
	SwapFeeBps       int64  `json:"swap_fee_bps"`
	StableSwapFeeBps int64  `json:"stable_swap_fee_bps"`
	WagerFeeBps      int64  `json:"wager_fee_bps"`
	ReferralCapBps   int64  `json:"referral_cap_bps"`
	HasDynamicFees   bool   `json:"has_dynamic_fees"`
}

func (s *HTTPServer) handleSetFees(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setFeesRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_fees", http.StatusBadRequest, err)
		return
	}

	cfg := vault.FeeConfig{
		TaxBps:           req.TaxBps,
		StableTaxBps:     req.StableTaxBps,
		MintBurnFeeBps:   req.MintBurnFeeBps,
		SwapFeeBps:       req.SwapFeeBps,
		StableSwapFeeBps: req.StableSwapFeeBps,
		WagerFeeBps:      req.WagerFeeBps,
		ReferralCapBps:   req.ReferralCapBps,
		HasDynamicFees:   req.HasDynamicFees,
	}

	s.govern(w, r, "set_fees", func() error {
		return s.vlt.SetFeeConfig(req.Caller, cfg)
	})
}

type setBufferRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *HTTPServer) handleSetBuffer(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setBufferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_buffer", http.StatusBadRequest, err)
		return
	}
	amount, err := parseNonNegative(req.Amount, "amount")
	if err != nil {
		s.writeError(w, "set_buffer", http.StatusBadRequest, err)
		return
	}

	s.govern(w, r, "set_buffer", func() error {
		return s.vlt.SetBufferAmount(req.Caller, req.Asset, amount)
	})
}

func (s *HTTPServer) handleSetBreakerThreshold(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setBufferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_breaker_threshold", http.StatusBadRequest, err)
		return
	}
	amount, err := parseNonNegative(req.Amount, "amount")
	if err != nil {
		s.writeError(w, "set_breaker_threshold", http.StatusBadRequest, err)
		return
	}

	s.govern(w, r, "set_breaker_threshold", func() error {
		return s.vlt.SetBreakerThreshold(req.Caller, req.Asset, amount)
	})
}

type setBreakerPolicyRequest struct {
	Caller       string `json:"caller"`
	HaltPayouts  bool   `json:"halt_payouts"`
	HaltSwaps    bool   `json:"halt_swaps"`
	AumDeductBps int64  `json:"aum_deduct_bps"`
}

func (s *HTTPServer) handleSetBreakerPolicy(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setBreakerPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_breaker_policy", http.StatusBadRequest, err)
		return
	}

	s.govern(w, r, "set_breaker_policy", func() error {
		return s.acct.SetBreakerPolicy(req.Caller, req.HaltPayouts, req.HaltSwaps, req.AumDeductBps)
	})
}

type setCooldownRequest struct {
	Caller  string `json:"caller"`
	Seconds int64  `json:"seconds"`
}

func (s *HTTPServer) handleSetCooldown(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setCooldownRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_cooldown", http.StatusBadRequest, err)
		return
	}

	s.govern(w, r, "set_cooldown", func() error {
		return s.acct.SetCooldown(req.Caller, time.Duration(req.Seconds)*time.Second)
	})
}

type setCollectorRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account"`
}

func (s *HTTPServer) handleSetCollector(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setCollectorRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_collector", http.StatusBadRequest, err)
		return
	}

	s.govern(w, r, "set_collector", func() error {
		return s.vlt.SetFeeCollector(req.Caller, req.Account)
	})
}

type setAumAdjustmentRequest struct {
	Caller    string `json:"caller"`
	Addition  string `json:"addition"`
	Deduction string `json:"deduction"`
}

func (s *HTTPServer) handleSetAumAdjustment(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req setAumAdjustmentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "set_aum_adjustment", http.StatusBadRequest, err)
		return
	}
	addition, err := parseNonNegative(req.Addition, "addition")
	if err != nil {
		s.writeError(w, "set_aum_adjustment", http.StatusBadRequest, err)
		return
	}
	deduction, err := parseNonNegative(req.Deduction, "deduction")
	if err != nil {
		s.writeError(w, "set_aum_adjustment", http.StatusBadRequest, err)
		return
	}

	s.govern(w, r, "set_aum_adjustment", func() error {
		return s.acct.SetAumAdjustment(req.Caller, addition, deduction)
	})
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *HTTPServer) handlePause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "pause", http.StatusBadRequest, err)
		return
	}

	// The gate itself has no caller concept, so authorization happens
	// here before the command is queued.
	if !s.gate.IsGovernance(req.Caller) && !s.gate.IsEmergency(req.Caller) {
		s.writeError(w, "pause", http.StatusForbidden, vault.ErrUnauthorized)
		return
	}

	paused := req.Paused
	s.govern(w, r, "pause", func() error {
		s.gate.SetPaused(paused)
		return nil
	})
}

// govern runs a minor governance setter on the writer loop and writes a
// uniform response.
func (s *HTTPServer) govern(w http.ResponseWriter, r *http.Request, name string, apply func() error) {
	_, err := s.proc.Submit(r.Context(), &settlement.Govern{
		Name:      name,
		Apply:     apply,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, name, err)
		return
	}
	s.writeJSON(w, name, http.StatusOK, map[string]any{"status": "ok"})
}

// --- Query handlers ---

func (s *HTTPServer) handleVaultStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	res, err := s.proc.Submit(r.Context(), &settlement.Inspect{
		Name: "vault_status",
		Read: func() (any, error) {
			status := map[string]any{
				"paused":          s.gate.IsPaused(),
				"swaps_enabled":   s.vlt.SwapsEnabled(),
				"payouts_enabled": s.vlt.PayoutsEnabled(),
				"breaker_active":  s.acct.BreakerActive(),
				"total_weight":    s.vlt.TotalWeight(),
				"assets":          s.vlt.WhitelistedAssets(),
				"sequence":        s.proc.Sequence(),
			}

			aum, aerr := s.acct.ComputeAUM(true)
			if aerr == nil {
				status["aum_max"] = aum.String()
			}
			priceMin, perr := s.acct.SharePrice(false)
			if perr == nil {
				status["share_price_min"] = priceMin.String()
			}
			priceMax, perr := s.acct.SharePrice(true)
			if perr == nil {
				status["share_price_max"] = priceMax.String()
			}
			return status, nil
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "vault_status", err)
		return
	}
	s.writeJSON(w, "vault_status", http.StatusOK, res)
}

func (s *HTTPServer) handlePreviewDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	asset := r.URL.Query().Get("asset")
	amountStr := r.URL.Query().Get("amount")
	amount, err := parsePositive(amountStr, "amount")
	if err != nil {
		s.writeError(w, "preview_deposit", http.StatusBadRequest, err)
		return
	}

	res, err := s.proc.Submit(r.Context(), &settlement.Inspect{
		Name: "preview_deposit",
		Read: func() (any, error) {
			usdw, feeBps, perr := s.vlt.PreviewDeposit(asset, amount)
			if perr != nil {
				return nil, perr
			}
			return map[string]any{
				"asset":     asset,
				"amount_in": amount.String(),
				"usdw_out":  usdw.String(),
				"fee_bps":   feeBps,
			}, nil
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		s.writeCommandError(w, "preview_deposit", err)
		return
	}
	s.writeJSON(w, "preview_deposit", http.StatusOK, res)
}

func (s *HTTPServer) handleListSheets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	sheets, err := s.qs.ListAssetSheets(r.Context())
	if err != nil {
		s.writeError(w, "asset_sheets", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "asset_sheets", http.StatusOK, map[string]any{"sheets": sheets})
}

func (s *HTTPServer) handleGetSheet(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	sheet, err := s.qs.GetAssetSheet(r.Context(), pathParams["asset"])
	if err != nil {
		s.writeError(w, "asset_sheet", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "asset_sheet", http.StatusOK, sheet)
}

func (s *HTTPServer) handleEntryHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	q := r.URL.Query()
	var field *string
	if v := q.Get("field"); v != "" {
		field = &v
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	var before *int64
	if v := q.Get("before"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			s.writeError(w, "entry_history", http.StatusBadRequest, fmt.Errorf("before: %w", perr))
			return
		}
		before = &n
	}

	entries, err := s.qs.GetEntryHistory(r.Context(), pathParams["asset"], field, limit, before)
	if err != nil {
		s.writeError(w, "entry_history", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "entry_history", http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleEventHistory(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	var eventType, asset *string
	if v := q.Get("event_type"); v != "" {
		eventType = &v
	}
	if v := q.Get("asset"); v != "" {
		asset = &v
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	var before *int64
	if v := q.Get("before"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			s.writeError(w, "event_history", http.StatusBadRequest, fmt.Errorf("before: %w", perr))
			return
		}
		before = &n
	}

	events, err := s.qs.GetEventHistory(r.Context(), eventType, asset, limit, before)
	if err != nil {
		s.writeError(w, "event_history", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "event_history", http.StatusOK, map[string]any{"events": events})
}

// --- Admin handlers ---

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "verify_integrity", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "verify_integrity", http.StatusOK, report)
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req governanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "rebuild_projections", http.StatusBadRequest, err)
		return
	}
	if !s.gate.IsGovernance(req.Caller) {
		s.writeError(w, "rebuild_projections", http.StatusForbidden, vault.ErrUnauthorized)
		return
	}

	if err := projection.Rebuild(r.Context(), s.db, s.logger); err != nil {
		s.writeError(w, "rebuild_projections", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "rebuild_projections", http.StatusOK, map[string]any{"status": "rebuilt"})
}

// --- helpers ---

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parsePositive(s, field string) (*big.Int, error) {
	v, err := parseNonNegative(s, field)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, fmt.Errorf("%s: must be positive", field)
	}
	return v, nil
}

func parseNonNegative(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a decimal integer", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: negative", field)
	}
	return v, nil
}

func bigStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// writeCommandError maps processor/vault errors to HTTP status codes.
func (s *HTTPServer) writeCommandError(w http.ResponseWriter, endpoint string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, settlement.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrPaused),
		errors.Is(err, vault.ErrSwapsDisabled),
		errors.Is(err, vault.ErrPayoutsHalted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrNotWhitelisted),
		errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrSameAsset),
		errors.Is(err, vault.ErrSlippage),
		errors.Is(err, vault.ErrBufferBreached),
		errors.Is(err, vault.ErrMaxUsdwExceeded),
		errors.Is(err, vault.ErrInsufficientPool),
		errors.Is(err, manager.ErrPrivateMode),
		errors.Is(err, manager.ErrCooldownActive),
		errors.Is(err, manager.ErrFirstMintTooSmall),
		errors.Is(err, manager.ErrNoShareSupply),
		errors.Is(err, oracle.ErrPriceUnavailable),
		errors.Is(err, oracle.ErrZeroPrice):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.writeError(w, endpoint, status, err)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, status int, err error) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, endpoint string, status int, v any) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("response encode failed")
	}
}
