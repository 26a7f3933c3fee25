// Package events handles event emission for listing lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/bramble/pkg/kafka"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// Emitter handles event emission for Bramble
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitListingCreated emits a listing.created event
func (e *Emitter) EmitListingCreated(ctx context.Context, listing *models.Listing) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitListingCreated")
	defer span.End()

	data, err := json.Marshal(listing)
	if err != nil {
		return err
	}

	event := &kafka.ListingEvent{
		EventType: "listing.created",
		TenantID:  listing.TenantID,
		ListingID: listing.ID.String(),
		SourceID:  listing.SourceID,
		Data:      data,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit listing.created event")
		return err
	}

	return nil
}

// EmitListingArchived emits a listing.archived event
func (e *Emitter) EmitListingArchived(ctx context.Context, listing *models.Listing) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitListingArchived")
	defer span.End()

	data, err := json.Marshal(listing)
	if err != nil {
		return err
	}

	event := &kafka.ListingEvent{
		EventType: "listing.archived",
		TenantID:  listing.TenantID,
		ListingID: listing.ID.String(),
		SourceID:  listing.SourceID,
		Data:      data,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit listing.archived event")
		return err
	}

	return nil
}

// EmitRunCompleted emits a run.completed event
func (e *Emitter) EmitRunCompleted(ctx context.Context, runID uuid.UUID, tenantID string, summary *models.FinalSummary) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRunCompleted")
	defer span.End()

	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	event := &kafka.RunEvent{
		EventType: "run.completed",
		TenantID:  tenantID,
		RunID:     runID.String(),
		Summary:   data,
	}

	if err := e.producer.PublishRunEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit run.completed event")
		return err
	}

	return nil
}
