package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/api/websocket"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/auth"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/config"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/repository/memory"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/service/auction"
)

type apiFixture struct {
	handler http.Handler
	authSvc *auth.Service
	engine  *auction.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	hub := auction.NewHub(zaptest.NewLogger(t))
	engine := auction.NewEngine(auction.DefaultConfig(), store, hub, nil, auction.RealClock{}, logger)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Close)

	authSvc, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Port:            0,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: time.Second,
		},
	}

	handler := NewHandler(engine, nil, config.RateLimitConfig{}, nil, logger)
	wsHandler := websocket.NewHandler(engine, zaptest.NewLogger(t))
	server := NewServer(cfg, handler, wsHandler, authSvc, nil, nil, logger)

	return &apiFixture{
		handler: server.httpServer.Handler,
		authSvc: authSvc,
		engine:  engine,
	}
}

func (f *apiFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) token(t *testing.T, userID uuid.UUID, moderator bool) string {
	t.Helper()

	token, err := f.authSvc.GenerateToken(userID, "testuser", moderator)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) createListing(t *testing.T, sellerToken string) ListingResponse {
	t.Helper()

	rec := f.request(t, http.MethodPost, "/api/v1/listings", sellerToken, CreateListingRequest{
		Title:           "Art deco clock",
		Description:     "Brass, working",
		StartPriceCents: 1000,
		ExpiresAt:       time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out ListingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAPI_CreateListing(t *testing.T) {
	f := newAPIFixture(t)
	seller := uuid.New()

	t.Run("requires auth", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/listings", "", CreateListingRequest{
			Title:           "Clock",
			StartPriceCents: 1000,
			ExpiresAt:       time.Now().Add(time.Hour),
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("creates and exposes the listing", func(t *testing.T) {
		l := f.createListing(t, f.token(t, seller, false))
		assert.Equal(t, seller, l.SellerID)
		assert.Equal(t, "active", l.Status)
		assert.Equal(t, int64(1000), l.CurrentCents)
		assert.NotEmpty(t, l.Slug)

		rec := f.request(t, http.MethodGet, "/api/v1/listings/"+l.ID.String(), "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var snap SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, int64(1001), snap.MinNextBidCents)

		rec = f.request(t, http.MethodGet, "/api/v1/listings/slug/"+l.Slug, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects invalid payloads", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/listings", f.token(t, seller, false), CreateListingRequest{
			Title:           "",
			StartPriceCents: 1000,
			ExpiresAt:       time.Now().Add(time.Hour),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})
}

func TestAPI_BidLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	seller := uuid.New()
	bidder := uuid.New()

	l := f.createListing(t, f.token(t, seller, false))
	bidPath := fmt.Sprintf("/api/v1/listings/%s/bids", l.ID)

	// accepted bid
	rec := f.request(t, http.MethodPost, bidPath, f.token(t, bidder, false), PlaceBidRequest{AmountCents: 1500})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var placed struct {
		Bid      BidResponse      `json:"bid"`
		Snapshot SnapshotResponse `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	assert.Equal(t, int64(1500), placed.Snapshot.CurrentCents)
	assert.Equal(t, bidder, *placed.Snapshot.CurrentWinnerID)

	// too-low bid is a 422 with the minimum spelled out
	rec = f.request(t, http.MethodPost, bidPath, f.token(t, uuid.New(), false), PlaceBidRequest{AmountCents: 1200})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "BID_TOO_LOW", errorCode(t, rec))

	// seller self-bid
	rec = f.request(t, http.MethodPost, bidPath, f.token(t, seller, false), PlaceBidRequest{AmountCents: 2000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_BIDDER", errorCode(t, rec))

	// history lists the accepted bid
	rec = f.request(t, http.MethodGet, bidPath, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Bids []BidResponse `json:"bids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Bids, 1)
	assert.True(t, history.Bids[0].Live)

	retractPath := fmt.Sprintf("/api/v1/listings/%s/bids/%s", l.ID, placed.Bid.ID)

	// a stranger cannot retract
	rec = f.request(t, http.MethodDelete, retractPath, f.token(t, uuid.New(), false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// the owner can
	rec = f.request(t, http.MethodDelete, retractPath, f.token(t, bidder, false), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap SnapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1000), snap.CurrentCents)
	assert.Nil(t, snap.CurrentWinnerID)
}

func TestAPI_ModeratorRetraction(t *testing.T) {
	f := newAPIFixture(t)
	seller := uuid.New()
	bidder := uuid.New()

	l := f.createListing(t, f.token(t, seller, false))
	rec := f.request(t, http.MethodPost, fmt.Sprintf("/api/v1/listings/%s/bids", l.ID),
		f.token(t, bidder, false), PlaceBidRequest{AmountCents: 1500})
	require.Equal(t, http.StatusCreated, rec.Code)

	var placed struct {
		Bid BidResponse `json:"bid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))

	rec = f.request(t, http.MethodDelete,
		fmt.Sprintf("/api/v1/listings/%s/bids/%s", l.ID, placed.Bid.ID),
		f.token(t, uuid.New(), true), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Browse(t *testing.T) {
	f := newAPIFixture(t)
	f.createListing(t, f.token(t, uuid.New(), false))
	f.createListing(t, f.token(t, uuid.New(), false))

	rec := f.request(t, http.MethodGet, "/api/v1/listings?status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Listings []ListingResponse `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Listings, 2)

	rec = f.request(t, http.MethodGet, "/api/v1/listings?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/listings?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_NotFoundAndBadIDs(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/listings/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/listings/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/listings/slug/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
