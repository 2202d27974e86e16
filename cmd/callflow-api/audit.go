package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/callflow/pkg/eventbus"
	"github.com/dukex/callflow/pkg/events"
)

var auditedEvents = []events.EventType{
	events.FlowCreatedEvent,
	events.FlowDeletedEvent,
	events.FlowPublishedEvent,
	events.FlowRolledBackEvent,
	events.SessionFinishedEvent,
}

// subscribeAuditLog logs the lifecycle events that change what callers hear.
func subscribeAuditLog(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	audit := logger.With("module", "audit")

	for _, eventType := range auditedEvents {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			audit.InfoContext(ctx, "Lifecycle event", "event_type", eventType, "event", event)

			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	return nil
}
