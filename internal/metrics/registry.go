// Package metrics holds the OpenTelemetry instruments for the auction
// engine. The Registry satisfies the engine's MetricsCollector port.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the engine's domain instruments.
type Registry struct {
	meter metric.Meter

	BidAcceptedCounter   metric.Int64Counter
	BidRejectedCounter   metric.Int64Counter
	BidRetractedCounter  metric.Int64Counter
	BidAmount            metric.Int64Histogram
	ListingClosedCounter metric.Int64Counter
	QueueWaitDuration    metric.Float64Histogram

	subscriberCount metric.Int64ObservableGauge
}

// NewRegistry builds the instruments on the global meter provider.
// subscriberCount is polled from fn; pass nil to skip the gauge.
func NewRegistry(meterName string, subscribers func() int) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error
	if r.BidAcceptedCounter, err = meter.Int64Counter(
		"auction.bid.accepted",
		metric.WithDescription("Bids accepted by a listing sequencer"),
	); err != nil {
		return nil, err
	}

	if r.BidRejectedCounter, err = meter.Int64Counter(
		"auction.bid.rejected",
		metric.WithDescription("Bids rejected, by reason"),
	); err != nil {
		return nil, err
	}

	if r.BidRetractedCounter, err = meter.Int64Counter(
		"auction.bid.retracted",
		metric.WithDescription("Bids retracted by their bidder or a moderator"),
	); err != nil {
		return nil, err
	}

	if r.BidAmount, err = meter.Int64Histogram(
		"auction.bid.amount_cents",
		metric.WithDescription("Accepted bid amounts in minor units"),
		metric.WithUnit("{cents}"),
	); err != nil {
		return nil, err
	}

	if r.ListingClosedCounter, err = meter.Int64Counter(
		"auction.listing.closed",
		metric.WithDescription("Listings closed, by terminal status"),
	); err != nil {
		return nil, err
	}

	if r.QueueWaitDuration, err = meter.Float64Histogram(
		"auction.queue.wait_duration",
		metric.WithDescription("Time from enqueue to a sequenced operation's completion in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 3000),
	); err != nil {
		return nil, err
	}

	if subscribers != nil {
		if r.subscriberCount, err = meter.Int64ObservableGauge(
			"auction.hub.subscribers",
			metric.WithDescription("Live event stream subscriptions"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(subscribers()))
				return nil
			}),
		); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) RecordBidAccepted(listingID uuid.UUID, amountCents int64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("listing_id", listingID.String()))
	r.BidAcceptedCounter.Add(ctx, 1, attrs)
	r.BidAmount.Record(ctx, amountCents)
}

func (r *Registry) RecordBidRejected(reason string) {
	r.BidRejectedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Registry) RecordBidRetracted(listingID uuid.UUID) {
	r.BidRetractedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("listing_id", listingID.String())))
}

func (r *Registry) RecordListingClosed(status string) {
	r.ListingClosedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

func (r *Registry) RecordQueueWait(d time.Duration) {
	r.QueueWaitDuration.Record(context.Background(), float64(d.Microseconds())/1000.0)
}
