// Command demobidder seeds a running auction exchange with listings and
// drives a handful of simulated bidders against them. It exists for demos
// and load smoke tests; point it at a dev instance, never production.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/auth"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/telemetry"
)

var bidderHandles = []string{
	"vintagevault",
	"techtrader99",
	"artisangoods",
	"collector42",
	"raregoods_eu",
}

// increments are the cent amounts a simulated bidder adds on top of the
// listing's minimum next bid.
var increments = []int64{500, 1000, 2500, 5000, 7500, 10000}

type bidder struct {
	identity auth.Identity
	token    string
}

type client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

type snapshotPayload struct {
	ListingID    string `json:"listing_id"`
	Slug         string `json:"slug"`
	Status       string `json:"status"`
	CurrentCents int64  `json:"current_price_cents"`
	MinNextCents int64  `json:"min_next_bid_cents"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "base URL of the auction API")
		secret   = flag.String("jwt-secret", "dev-secret-change-me", "JWT secret shared with the API")
		listings = flag.Int("listings", 3, "number of listings to create")
		duration = flag.Duration("listing-ttl", 10*time.Minute, "how long each seeded listing stays open")
		cadence  = flag.Duration("cadence", 4500*time.Millisecond, "average delay between bid attempts")
	)
	flag.Parse()

	logger := telemetry.SetupLogger(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authSvc, err := auth.NewService(*secret, time.Hour)
	if err != nil {
		logger.Error("failed to build token issuer", "error", err)
		os.Exit(1)
	}

	bidders := make([]bidder, 0, len(bidderHandles))
	for _, handle := range bidderHandles {
		id := auth.Identity{UserID: uuid.New(), Handle: handle}
		token, err := authSvc.GenerateToken(id.UserID, id.Handle, false)
		if err != nil {
			logger.Error("failed to mint bidder token", "handle", handle, "error", err)
			os.Exit(1)
		}
		bidders = append(bidders, bidder{identity: id, token: token})
	}

	seller := bidders[0]
	api := &client{
		base:   *baseURL,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ids := make([]uuid.UUID, 0, *listings)
	for i := 0; i < *listings; i++ {
		id, err := api.createListing(ctx, seller, i, *duration)
		if err != nil {
			logger.Error("failed to seed listing", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded listing", "listing_id", id, "seller", seller.identity.Handle)
		ids = append(ids, id)
	}

	// One global limiter keeps the simulator polite even with many bidders.
	limiter := rate.NewLimiter(rate.Every(*cadence), 1)

	logger.Info("bidding loop started",
		"bidders", len(bidders),
		"listings", len(ids),
		"cadence", cadence.String(),
	)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		if err := limiter.Wait(ctx); err != nil {
			logger.Info("stopping", "reason", ctx.Err())
			return
		}

		b := bidders[rng.Intn(len(bidders))]
		listingID := ids[rng.Intn(len(ids))]

		snap, err := api.snapshot(ctx, listingID)
		if err != nil {
			logger.Warn("snapshot failed", "listing_id", listingID, "error", err)
			continue
		}
		if snap.Status != "active" {
			logger.Info("listing closed, skipping", "listing_id", listingID, "status", snap.Status)
			continue
		}

		amount := snap.MinNextCents + increments[rng.Intn(len(increments))]
		if err := api.placeBid(ctx, b, listingID, amount); err != nil {
			logger.Warn("bid rejected",
				"listing_id", listingID,
				"bidder", b.identity.Handle,
				"amount_cents", amount,
				"error", err,
			)
			continue
		}
		logger.Info("bid accepted",
			"listing_id", listingID,
			"bidder", b.identity.Handle,
			"amount_cents", amount,
		)
	}
}

func (c *client) createListing(ctx context.Context, seller bidder, n int, ttl time.Duration) (uuid.UUID, error) {
	body := map[string]any{
		"title":             fmt.Sprintf("Demo lot #%d", n+1),
		"description":       "Seeded by demobidder for demo traffic.",
		"start_price_cents": int64(1000 * (n + 1)),
		"expires_at":        time.Now().UTC().Add(ttl),
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/listings", seller.token, body, http.StatusCreated, &resp); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(resp.ID)
}

func (c *client) snapshot(ctx context.Context, listingID uuid.UUID) (*snapshotPayload, error) {
	var snap snapshotPayload
	path := "/api/v1/listings/" + listingID.String()
	if err := c.do(ctx, http.MethodGet, path, "", nil, http.StatusOK, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *client) placeBid(ctx context.Context, b bidder, listingID uuid.UUID, amountCents int64) error {
	body := map[string]any{"amount_cents": amountCents}
	path := "/api/v1/listings/" + listingID.String() + "/bids"
	return c.do(ctx, http.MethodPost, path, b.token, body, http.StatusCreated, nil)
}

func (c *client) do(ctx context.Context, method, path, token string, body any, wantStatus int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("unexpected status %d from %s %s", resp.StatusCode, method, path)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
