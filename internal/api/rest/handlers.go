package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/auth"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/cache"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/service/auction"
)

const defaultBrowseLimit = 50

// Handler serves the listing and bid endpoints over the auction engine.
type Handler struct {
	engine       *auction.Engine
	rateLimiter  cache.RateLimiter
	rateCfg      config.RateLimitConfig
	listingCache *cache.ListingCache
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewHandler creates the REST handler. rateLimiter and listingCache may be
// nil, disabling those features.
func NewHandler(engine *auction.Engine, rateLimiter cache.RateLimiter, rateCfg config.RateLimitConfig, listingCache *cache.ListingCache, logger *slog.Logger) *Handler {
	return &Handler{
		engine:       engine,
		rateLimiter:  rateLimiter,
		rateCfg:      rateCfg,
		listingCache: listingCache,
		validate:     validator.New(),
		logger:       logger,
	}
}

func (h *Handler) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateListingRequest
	if !h.decode(w, r, &req) {
		return
	}

	l, err := h.engine.CreateListing(r.Context(), identity.UserID,
		req.Title, req.Description,
		values.NewMoneyFromCents(req.StartPriceCents), req.ExpiresAt)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingResponse(l))
}

func (h *Handler) handleBrowseListings(w http.ResponseWriter, r *http.Request) {
	status := listing.StatusActive
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := listing.ParseStatus(raw)
		if err != nil {
			writeError(w, r, h.logger, domainErrors.NewValidationError("INVALID_STATUS", err.Error()))
			return
		}
		status = parsed
	}

	limit := defaultBrowseLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, r, h.logger, domainErrors.NewValidationError("INVALID_LIMIT", "limit must be between 1 and 200"))
			return
		}
		limit = parsed
	}

	if h.listingCache != nil {
		if cached, hit := h.listingCache.GetBrowse(r.Context(), status, limit); hit {
			h.writeListings(w, cached)
			return
		}
	}

	listings, err := h.engine.Browse(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if h.listingCache != nil {
		h.listingCache.PutBrowse(r.Context(), status, limit, listings)
	}
	h.writeListings(w, listings)
}

func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	snap, err := h.engine.Snapshot(r.Context(), listingID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (h *Handler) handleGetListingBySlug(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.SnapshotBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (h *Handler) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	listingID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req PlaceBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.allowBid(w, r, identity) {
		return
	}

	snap, b, err := h.engine.SubmitBid(r.Context(), listingID, identity.UserID,
		values.NewMoneyFromCents(req.AmountCents))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Bid      BidResponse      `json:"bid"`
		Snapshot SnapshotResponse `json:"snapshot"`
	}{toBidResponse(b), toSnapshotResponse(snap)})
}

func (h *Handler) handleRetractBid(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	listingID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	bidID, ok := h.pathUUID(w, r, "bidID")
	if !ok {
		return
	}

	snap, err := h.engine.RetractBid(r.Context(), listingID, bidID, identity.UserID, identity.Moderator)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (h *Handler) handleListBids(w http.ResponseWriter, r *http.Request) {
	listingID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	// 404 for unknown listings rather than an empty history
	if _, err := h.engine.Snapshot(r.Context(), listingID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	bids, err := h.engine.Bids(r.Context(), listingID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidResponse(b))
	}
	writeJSON(w, http.StatusOK, struct {
		Bids []BidResponse `json:"bids"`
	}{out})
}

// allowBid enforces the per-bidder rate limit. Limiter errors fail open so
// a Redis outage cannot stop the auction.
func (h *Handler) allowBid(w http.ResponseWriter, r *http.Request, identity *auth.Identity) bool {
	if h.rateLimiter == nil || !h.rateCfg.Enabled {
		return true
	}

	allowed, err := h.rateLimiter.Allow(r.Context(), identity.UserID.String(),
		h.rateCfg.BidsPerWindow, h.rateCfg.Window)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		return true
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.rateCfg.Window.Seconds())))
		writeError(w, r, h.logger, domainErrors.NewRateLimitError("Too many bids, slow down"))
		return false
	}
	return true
}

func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return nil, false
	}
	return identity, true
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, h.logger, domainErrors.NewValidationError("INVALID_ID", "malformed uuid in path"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, r, h.logger, domainErrors.NewValidationError("INVALID_JSON", "request body is not valid JSON"))
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		writeError(w, r, h.logger, domainErrors.NewValidationError("INVALID_INPUT", err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeListings(w http.ResponseWriter, listings []*listing.Listing) {
	out := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, struct {
		Listings []ListingResponse `json:"listings"`
	}{out})
}
