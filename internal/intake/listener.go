// Package intake receives matcher tasks over NATS request-reply and
// feeds them to the dispatcher. Each intake subject carries one task
// kind; payloads are validated before any pool work starts, and the
// reply echoes the originating event id as the task id so callers can
// correlate.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/richxcame/airpool/internal/dispatch"
	"github.com/richxcame/airpool/internal/matching"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/eventbus"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/metrics"
	"github.com/richxcame/airpool/pkg/validation"
)

// DefaultTaskTimeout bounds one task end to end: route lookup, pool
// scans and the durable commit.
const DefaultTaskTimeout = 30 * time.Second

// Submitter is the slice of the dispatcher the listener drives.
type Submitter interface {
	Submit(ctx context.Context, task dispatch.Task) (*matching.Result, error)
}

// Broker registers intake queue subscriptions; satisfied by eventbus.Bus.
type Broker interface {
	QueueSubscribe(subject, queue string, handler nats.MsgHandler) error
}

// Listener owns the matcher's intake subscriptions.
type Listener struct {
	submitter Submitter
	timeout   time.Duration
}

// NewListener creates a listener feeding tasks to submitter.
func NewListener(submitter Submitter) *Listener {
	return &Listener{submitter: submitter, timeout: DefaultTaskTimeout}
}

// Start subscribes the intake subjects in the shared matcher queue
// group, so requests load-balance across all matcher instances.
func (l *Listener) Start(bus Broker) error {
	subjects := []struct {
		subject string
		task    func([]byte) eventbus.TaskResponseData
	}{
		{eventbus.SubjectMatchRequest, l.matchTask},
		{eventbus.SubjectUserRemove, l.removeUserTask},
		{eventbus.SubjectTripLeave, l.tripLeaveTask},
	}

	for _, s := range subjects {
		if err := bus.QueueSubscribe(s.subject, eventbus.IntakeQueueGroup, l.respond(s.task)); err != nil {
			return err
		}
	}
	return nil
}

// respond adapts a task runner to a NATS handler. A request without a
// reply subject is still processed; the outcome is simply not sent.
func (l *Listener) respond(task func([]byte) eventbus.TaskResponseData) nats.MsgHandler {
	return func(msg *nats.Msg) {
		resp := task(msg.Data)
		if msg.Reply == "" {
			return
		}

		data, err := json.Marshal(resp)
		if err != nil {
			logger.Error("failed to encode intake reply",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Warn("intake reply failed",
				zap.String("subject", msg.Subject),
				zap.String("task_id", resp.TaskID),
				zap.Error(err),
			)
		}
	}
}

func (l *Listener) matchTask(data []byte) eventbus.TaskResponseData {
	event, err := parseEvent(data)
	if err != nil {
		metrics.RecordTask(string(dispatch.KindMatchRide), "invalid")
		return invalidReply("", "malformed event envelope")
	}

	var payload eventbus.MatchRequestData
	if err := parsePayload(event, &payload); err != nil {
		metrics.RecordTask(string(dispatch.KindMatchRide), "invalid")
		return invalidReply(event.ID, err.Error())
	}

	ctx, cancel := l.taskContext(event.ID)
	defer cancel()

	result, err := l.submitter.Submit(ctx, dispatch.Task{
		ID:   event.ID,
		Kind: dispatch.KindMatchRide,
		Match: matching.Request{
			UserID:               payload.UserID.String(),
			DestinationLatitude:  payload.DestinationLatitude,
			DestinationLongitude: payload.DestinationLongitude,
			PassengerCount:       payload.PassengerCount,
			LuggageUnits:         payload.LuggageUnits,
		},
	})
	if err != nil {
		logger.WarnContext(ctx, "match task failed",
			zap.String("user_id", payload.UserID.String()),
			zap.Error(err),
		)
		return errorReply(event.ID, err)
	}
	return resultReply(ctx, event.ID, result)
}

func (l *Listener) removeUserTask(data []byte) eventbus.TaskResponseData {
	event, err := parseEvent(data)
	if err != nil {
		metrics.RecordTask(string(dispatch.KindRemoveUser), "invalid")
		return invalidReply("", "malformed event envelope")
	}

	var payload eventbus.RemoveUserData
	if err := parsePayload(event, &payload); err != nil {
		metrics.RecordTask(string(dispatch.KindRemoveUser), "invalid")
		return invalidReply(event.ID, err.Error())
	}

	ctx, cancel := l.taskContext(event.ID)
	defer cancel()

	_, err = l.submitter.Submit(ctx, dispatch.Task{
		ID:     event.ID,
		Kind:   dispatch.KindRemoveUser,
		UserID: payload.UserID.String(),
	})
	if err != nil {
		logger.WarnContext(ctx, "remove user task failed",
			zap.String("user_id", payload.UserID.String()),
			zap.Error(err),
		)
		return errorReply(event.ID, err)
	}
	return ackReply(event.ID)
}

func (l *Listener) tripLeaveTask(data []byte) eventbus.TaskResponseData {
	event, err := parseEvent(data)
	if err != nil {
		metrics.RecordTask(string(dispatch.KindRemoveUserFromTrip), "invalid")
		return invalidReply("", "malformed event envelope")
	}

	var payload eventbus.LeaveTripData
	if err := parsePayload(event, &payload); err != nil {
		metrics.RecordTask(string(dispatch.KindRemoveUserFromTrip), "invalid")
		return invalidReply(event.ID, err.Error())
	}

	ctx, cancel := l.taskContext(event.ID)
	defer cancel()

	// The engine locates the rider's trip itself; the trip id in the
	// payload is the caller's claim, kept for the reply and the logs.
	_, err = l.submitter.Submit(ctx, dispatch.Task{
		ID:     event.ID,
		Kind:   dispatch.KindRemoveUserFromTrip,
		UserID: payload.UserID.String(),
	})
	if err != nil {
		logger.WarnContext(ctx, "trip leave task failed",
			zap.String("user_id", payload.UserID.String()),
			zap.String("trip_id", payload.TripID),
			zap.Error(err),
		)
		return errorReply(event.ID, err)
	}
	return ackReply(event.ID)
}

// taskContext derives the bounded, correlation-tagged context one task
// runs under. NATS handlers carry no context of their own.
func (l *Listener) taskContext(taskID string) (context.Context, context.CancelFunc) {
	timeout := l.timeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return logger.ContextWithCorrelationID(ctx, taskID), cancel
}

func parseEvent(data []byte) (*eventbus.Event, error) {
	var event eventbus.Event
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Warn("malformed intake event", zap.Error(err))
		return nil, err
	}
	return &event, nil
}

func parsePayload(event *eventbus.Event, payload interface{}) error {
	if err := json.Unmarshal(event.Data, payload); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validation.ValidateStruct(payload); err != nil {
		return err
	}
	return nil
}

func invalidReply(taskID, message string) eventbus.TaskResponseData {
	return eventbus.TaskResponseData{
		TaskID: taskID,
		Error: &eventbus.TaskErrorData{
			Kind:    common.KindValidationError,
			Message: message,
		},
	}
}

func errorReply(taskID string, err error) eventbus.TaskResponseData {
	kind := common.KindInternalError
	message := "task failed"
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		kind = appErr.Kind
		message = appErr.Message
	}
	return eventbus.TaskResponseData{
		TaskID: taskID,
		Error:  &eventbus.TaskErrorData{Kind: kind, Message: message},
	}
}

func resultReply(ctx context.Context, taskID string, result *matching.Result) eventbus.TaskResponseData {
	resp := eventbus.TaskResponseData{TaskID: taskID}
	if result == nil {
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode match result", zap.Error(err))
		return errorReply(taskID, common.NewInternalError("failed to encode match result", err))
	}
	resp.Result = raw
	return resp
}

// ackReply acknowledges a removal task; removals carry no result body.
func ackReply(taskID string) eventbus.TaskResponseData {
	return eventbus.TaskResponseData{TaskID: taskID}
}
