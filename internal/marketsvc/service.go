// Package marketsvc wires the market state machine (internal/market) to
// HTTP handlers and WebSocket broadcasts.
package marketsvc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aniemerg/distribution-markets/internal/correlation"
	"github.com/aniemerg/distribution-markets/internal/fixedpoint"
	"github.com/aniemerg/distribution-markets/internal/market"
	"github.com/aniemerg/distribution-markets/internal/metrics"
	"github.com/aniemerg/distribution-markets/internal/model"
	"github.com/aniemerg/distribution-markets/internal/store"
)

// Service handles market HTTP operations by delegating all state
// transitions to a market.Engine.
type Service struct {
	engine *market.Engine
	store  store.Store
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new market service. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewService(engine *market.Engine, st store.Store, hub *WSHub) *Service {
	return &Service{
		engine: engine,
		store:  st,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// InitializeRequest is the JSON body for POST /api/v1/markets.
type InitializeRequest struct {
	OwnerID             string            `json:"owner_id"`
	Mu0                 fixedpoint.SFixed `json:"mu0"`
	Sigma0              fixedpoint.UFixed `json:"sigma0"`
	B0                  fixedpoint.UFixed `json:"b0"`
	K0                  fixedpoint.UFixed `json:"k0"`
	SettlementAuthority string            `json:"settlement_authority,omitempty"`
}

// AddLiquidityRequest is the JSON body for POST /api/v1/markets/{marketID}/liquidity.
type AddLiquidityRequest struct {
	OwnerID string            `json:"owner_id"`
	DeltaB  fixedpoint.UFixed `json:"delta_b"`
}

// TradeRequest is the JSON body for POST /api/v1/markets/{marketID}/trade.
type TradeRequest struct {
	OwnerID       string            `json:"owner_id"`
	Mu            fixedpoint.SFixed `json:"mu"`
	Sigma         fixedpoint.UFixed `json:"sigma"`
	MaxCollateral fixedpoint.UFixed `json:"max_collateral"`
}

// TradeResponse is the JSON body returned from POST /api/v1/markets/{marketID}/trade.
type TradeResponse struct {
	Position   *model.Position  `json:"position"`
	Collateral fixedpoint.UFixed `json:"collateral"`
}

// SettleRequest is the JSON body for POST /api/v1/markets/{marketID}/settle.
type SettleRequest struct {
	XFinal    fixedpoint.SFixed `json:"x_final"`
	Authority string            `json:"authority"`
}

// ClaimResponse is the JSON body returned from POST /api/v1/positions/{positionID}/claim.
type ClaimResponse struct {
	Payout fixedpoint.UFixed `json:"payout"`
}

// ClaimLPSharesRequest is the JSON body for POST /api/v1/markets/{marketID}/claim-lp-shares.
type ClaimLPSharesRequest struct {
	HolderID string `json:"holder_id"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	mkt, pos, err := s.engine.Initialize(r.Context(), "", req.Mu0, req.Sigma0, req.B0, req.K0, req.OwnerID, req.SettlementAuthority)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	metrics.ActiveMarkets.Inc()
	metrics.LiquidityAdded.WithLabelValues(mkt.ID).Add(toFloat(req.B0))
	metrics.CollateralLocked.WithLabelValues(mkt.ID).Set(toFloat(mkt.B))

	slog.Info("market initialized", "id", mkt.ID, "owner", req.OwnerID, "b0", req.B0.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(struct {
		Market   *model.Market   `json:"market"`
		Position *model.Position `json:"position"`
	}{mkt, pos})
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	mkt, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mkt)
}

// PriceResponse is the JSON body returned from GET /api/v1/markets/{marketID}/price.
type PriceResponse struct {
	Mu    fixedpoint.SFixed `json:"mu"`
	Sigma fixedpoint.UFixed `json:"sigma"`
	K     fixedpoint.UFixed `json:"k"`
	B     fixedpoint.UFixed `json:"b"`
	Phase model.Phase       `json:"phase"`
}

// GetPrice handles GET /api/v1/markets/{marketID}/price, a narrower view
// of GetMarket for callers that only need the current distribution shape.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	mkt, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PriceResponse{
		Mu:    mkt.Mu,
		Sigma: mkt.Sigma,
		K:     mkt.K,
		B:     mkt.B,
		Phase: mkt.Phase,
	})
}

// ListMarkets handles GET /api/v1/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// AddLiquidity handles POST /api/v1/markets/{marketID}/liquidity.
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req AddLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	pos, err := s.engine.AddLiquidity(r.Context(), marketID, req.DeltaB, req.OwnerID)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	metrics.LiquidityAdded.WithLabelValues(marketID).Add(toFloat(req.DeltaB))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pos)
}

// Trade handles POST /api/v1/markets/{marketID}/trade.
func (s *Service) Trade(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	pos, collateral, iterCount, converged, err := s.engine.Trade(r.Context(), marketID, req.Mu, req.Sigma, req.MaxCollateral, req.OwnerID)
	latency := time.Since(start).Seconds()

	if iterCount > 0 {
		metrics.SolverIterations.Observe(float64(iterCount))
		if !converged {
			metrics.SolverNonConvergence.Inc()
		}
	}

	if err != nil {
		metrics.TradeLatency.WithLabelValues("rejected").Observe(latency)
		metrics.TradesTotal.WithLabelValues("rejected").Inc()
		writeMarketError(w, err)
		return
	}

	metrics.TradeLatency.WithLabelValues("filled").Observe(latency)
	metrics.TradesTotal.WithLabelValues("filled").Inc()

	if mkt, err := s.store.GetMarket(r.Context(), marketID); err == nil {
		metrics.CollateralLocked.WithLabelValues(marketID).Set(toFloat(mkt.B))
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:     "trade_executed",
				MarketID: marketID,
				Mu:       mkt.Mu.String(),
				Sigma:    mkt.Sigma.String(),
				K:        mkt.K.String(),
				B:        mkt.B.String(),
				Phase:    string(mkt.Phase),
			})
		}
	}

	slog.Info("trade executed",
		"position_id", pos.ID,
		"owner", req.OwnerID,
		"market", marketID,
		"collateral", collateral.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{Position: pos, Collateral: collateral})
}

// Settle handles POST /api/v1/markets/{marketID}/settle. If the market
// was initialized with a settlement authority, req.Authority must match
// it; the engine enforces this, not this handler.
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mkt, err := s.engine.Settle(r.Context(), marketID, req.XFinal, req.Authority)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	metrics.Settlements.Inc()
	metrics.ActiveMarkets.Dec()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_settled",
			MarketID: marketID,
			Phase:    string(mkt.Phase),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mkt)
}

// Claim handles POST /api/v1/positions/{positionID}/claim.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payout, err := s.engine.Claim(r.Context(), positionID, req.OwnerID)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	pos, posErr := s.store.GetPosition(r.Context(), positionID)
	if posErr == nil {
		metrics.Claims.WithLabelValues(string(pos.Kind)).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ClaimResponse{Payout: payout})
}

// ClaimLPShares handles POST /api/v1/markets/{marketID}/claim-lp-shares.
func (s *Service) ClaimLPShares(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ClaimLPSharesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payout, err := s.engine.ClaimLPShares(r.Context(), marketID, req.HolderID)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	metrics.Claims.WithLabelValues("lp").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ClaimResponse{Payout: payout})
}

// GetPortfolio handles GET /api/v1/portfolio/{ownerID}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	positions, err := s.store.GetPositionsByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.Portfolio{OwnerID: ownerID, Positions: positions})
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	entries, err := s.store.GetLedgerEntriesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// --- helpers ---

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeMarketError maps a market.Error's Kind to an HTTP status;
// arithmetic errors from the kernel layers (DivByZero, Overflow, ...)
// surface as 500s since they indicate a caller or implementation bug,
// never a recoverable validation failure.
func writeMarketError(w http.ResponseWriter, err error) {
	if errors.Is(err, correlation.ErrPerBucketLimitExceeded) || errors.Is(err, correlation.ErrCorrelatedLimitExceeded) {
		metrics.CorrelationLimitRejections.Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	var merr *market.Error
	if errors.As(err, &merr) {
		switch merr.Kind {
		case market.KindSigmaBelowMinimum, market.KindInsufficientCollateral,
			market.KindMarketAlreadyInitialized, market.KindMarketNotInitialized,
			market.KindMarketAlreadySettled, market.KindPositionAlreadySettled:
			writeError(w, merr.Error(), http.StatusConflict)
			return
		case market.KindNotPositionOwner, market.KindNotSettlementAuthority:
			writeError(w, merr.Error(), http.StatusForbidden)
			return
		}
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}

func toFloat(u fixedpoint.UFixed) float64 {
	f, _ := new(big.Float).SetString(u.String())
	out, _ := f.Float64()
	return out
}
