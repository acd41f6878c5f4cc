package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/signoff/pkg/events"
	"github.com/dukex/signoff/pkg/mocks"
	"github.com/dukex/signoff/pkg/models"
	"github.com/dukex/signoff/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBusNotifier_Publishes(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "wf-1", mock.MatchedBy(func(event events.WorkflowNotification) bool {
		return event.GetType() == events.WorkflowStepAdvancedEvent &&
			event.InstanceID == "wf-1" &&
			event.CurrentStep == 2 &&
			assert.ObjectsAreEqual([]string{"mgr-1"}, event.Recipients)
	})).Return(nil)

	n := notify.NewEventBusNotifier(bus, nil, testLogger())
	n.Notify(context.Background(), models.Notification{
		Kind:       models.NotifyStepAdvanced,
		Actor:      "sup-1",
		Recipients: []string{"mgr-1"},
		Instance:   &models.WorkflowInstance{ID: "wf-1", CurrentStep: 2, Status: models.StatusInProgress},
		OccurredAt: time.Now(),
	})

	bus.AssertExpectations(t)
}

func TestEventBusNotifier_FailureIsSwallowed(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	n := notify.NewEventBusNotifier(bus, nil, testLogger())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), models.Notification{
			Kind:     models.NotifyApproved,
			Instance: &models.WorkflowInstance{ID: "wf-1"},
		})
	})
	bus.AssertNumberOfCalls(t, "Publish", 1)
}

type countingNotifier struct {
	kinds []models.NotificationKind
}

func (c *countingNotifier) Notify(_ context.Context, notification models.Notification) {
	c.kinds = append(c.kinds, notification.Kind)
}

func TestFanout_NotifiesEach(t *testing.T) {
	first, second := &countingNotifier{}, &countingNotifier{}

	fanout := notify.Fanout{first, notify.NewLogNotifier(testLogger()), second}
	fanout.Notify(context.Background(), models.Notification{
		Kind:     models.NotifyApproved,
		Instance: &models.WorkflowInstance{ID: "wf-1"},
	})

	assert.Equal(t, []models.NotificationKind{models.NotifyApproved}, first.kinds)
	assert.Equal(t, []models.NotificationKind{models.NotifyApproved}, second.kinds)
}
