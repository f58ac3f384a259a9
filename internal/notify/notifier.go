// Package notify publishes rider-facing match events. Delivery is
// fire-and-forget: failures are logged and counted, never retried, and
// never block the commit path.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/airpool/pkg/async"
	"github.com/richxcame/airpool/pkg/eventbus"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/metrics"
	"github.com/richxcame/airpool/pkg/models"
)

// Payload type discriminators.
const (
	TypeRideMatched = "RIDE_MATCHED"
	TypeRiderLeft   = "RIDER_LEFT"
)

const publishTimeout = 5 * time.Second

// RideMatched tells a waiting rider their entry was folded into a trip.
type RideMatched struct {
	Type string             `json:"type"`
	Trip *models.TripDetail `json:"trip"`
}

// RiderLeft tells a remaining member that a rider cancelled out of
// their forming trip. UpdatedTrip is nil when the trip collapsed and
// was cancelled outright.
type RiderLeft struct {
	Type            string             `json:"type"`
	TripID          string             `json:"trip_id"`
	CancelledUserID string             `json:"cancelled_user_id"`
	UpdatedTrip     *models.TripDetail `json:"updated_trip"`
}

// Publisher is the slice of the event bus the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Notifier fans match events out to per-rider topics.
type Notifier struct {
	bus    Publisher
	source string
}

// NewNotifier creates a notifier publishing on behalf of source.
func NewNotifier(bus Publisher, source string) *Notifier {
	if source == "" {
		source = "matcher"
	}
	return &Notifier{bus: bus, source: source}
}

// RideMatched sends the committed trip snapshot to one rider's topic.
func (n *Notifier) RideMatched(ctx context.Context, userID string, trip *models.TripDetail) {
	n.publish(ctx, userID, TypeRideMatched, RideMatched{Type: TypeRideMatched, Trip: trip})
}

// RiderLeft tells one remaining member that cancelledUserID left their
// trip, carrying the shrunken snapshot when the trip survived.
func (n *Notifier) RiderLeft(ctx context.Context, userID, tripID, cancelledUserID string, updated *models.TripDetail) {
	n.publish(ctx, userID, TypeRiderLeft, RiderLeft{
		Type:            TypeRiderLeft,
		TripID:          tripID,
		CancelledUserID: cancelledUserID,
		UpdatedTrip:     updated,
	})
}

func (n *Notifier) publish(ctx context.Context, userID, eventType string, payload interface{}) {
	event, err := eventbus.NewEvent(eventType, n.source, payload)
	if err != nil {
		metrics.RecordNotification(eventType, err)
		logger.ErrorContext(ctx, "failed to encode rider notification",
			zap.String("user_id", userID),
			zap.String("type", eventType),
			zap.Error(err),
		)
		return
	}

	subject := eventbus.RiderSubject(userID)
	async.GoWithTimeout(ctx, "notify.publish", publishTimeout, func(ctx context.Context) {
		err := n.bus.Publish(ctx, subject, event)
		metrics.RecordNotification(eventType, err)
		if err != nil {
			logger.WarnContext(ctx, "rider notification failed",
				zap.String("user_id", userID),
				zap.String("type", eventType),
				zap.Error(err),
			)
		}
	})
}
