package eventbus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/signoff/pkg/channels/gochannel"
	"github.com/dukex/signoff/pkg/events"
	"github.com/dukex/signoff/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	completed := make(chan *events.ResourceCompleted, 1)
	notified := make(chan *events.WorkflowNotification, 1)

	require.NoError(t, bus.Handle(events.ResourceCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.ResourceCompleted)

		return nil
	}))
	require.NoError(t, bus.Handle(events.WorkflowApprovedEvent, func(_ context.Context, event any) error {
		notified <- event.(*events.WorkflowNotification)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "inspection:r-1", events.ResourceCompleted{
		BaseEvent:    events.NewBaseEvent(bus.GenerateID(), events.ResourceCompletedEvent),
		ResourceType: "inspection",
		ResourceID:   "r-1",
		Attributes:   map[string]any{"requires_approval": true},
	}))

	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowNotification{
		BaseEvent:  events.NewBaseEvent(bus.GenerateID(), events.NotificationEventType(models.NotifyApproved)),
		InstanceID: "wf-1",
		Kind:       models.NotifyApproved,
		Status:     models.StatusApproved,
	}))

	select {
	case event := <-completed:
		assert.Equal(t, "r-1", event.ResourceID)
		assert.Equal(t, true, event.Attributes["requires_approval"])
	case <-time.After(2 * time.Second):
		t.Fatal("resource.completed not delivered")
	}

	select {
	case event := <-notified:
		assert.Equal(t, "wf-1", event.InstanceID)
		assert.Equal(t, events.WorkflowApprovedEvent, event.GetType())
	case <-time.After(2 * time.Second):
		t.Fatal("workflow.approved not delivered")
	}
}

func TestNotificationEventType(t *testing.T) {
	assert.Equal(t, events.WorkflowStepAdvancedEvent, events.NotificationEventType(models.NotifyStepAdvanced))
	assert.Equal(t, events.WorkflowEscalatedEvent, events.NotificationEventType(models.NotifyEscalated))
	assert.NotNil(t, newEvent(events.NotificationEventType(models.NotifyCancelled)))
	assert.Nil(t, newEvent("unknown"))
}
