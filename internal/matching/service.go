// Package matching implements the route-pooling engine: register the
// caller in the shared pool, scan it for containment and detour
// candidates, and fold the first acceptable pair into a trip. The
// pairing commit is a pool-side atomic claim; the durable store and the
// notification bus follow after and never hold the pool back.
package matching

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/airpool/internal/pool"
	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/internal/trips"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/config"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/metrics"
	"github.com/richxcame/airpool/pkg/models"
	"github.com/richxcame/airpool/pkg/tracing"
	"github.com/richxcame/airpool/pkg/validation"
)

const tracerName = "matcher.engine"

// Scan steps, in preference order.
const (
	stepSuperset = "superset"
	stepSubset   = "subset"
	stepDetour   = "detour"
)

// errCallerClaimed stops a scan whose caller was paired by a concurrent
// worker; that worker owns the caller's notification.
var errCallerClaimed = errors.New("caller claimed by concurrent pairing")

// PoolStore is the slice of the pool the engine drives.
type PoolStore interface {
	PutMeta(ctx context.Context, e *pool.Entry) error
	GetMeta(ctx context.Context, entryID string) (*pool.Entry, error)
	DelMeta(ctx context.Context, entryIDs ...string) error
	AddMember(ctx context.Context, e *pool.Entry) error
	RemoveMembers(ctx context.Context, members ...string) (int64, error)
	ClaimPair(ctx context.Context, caller, peer pool.Membership) (pool.ClaimVerdict, error)
	RangeLex(ctx context.Context, min, max string, limit int64) ([]pool.Membership, error)
	RevRangeLex(ctx context.Context, max, min string, limit int64) ([]pool.Membership, error)
	MembersForID(ctx context.Context, entryID string) ([]string, error)
	TripEntries(ctx context.Context) ([]*pool.Entry, error)
}

// RouteIndexer turns a destination into a comparable route.
type RouteIndexer interface {
	ComputeRoute(ctx context.Context, destLat, destLng float64) (*route.Route, error)
}

// DetourProber measures the driving distance between two cells.
type DetourProber interface {
	DetourMeters(ctx context.Context, fromCell, toCell string) (int, error)
}

// TripStore persists pairings and membership changes durably.
type TripStore interface {
	CommitMatch(ctx context.Context, input trips.CommitInput) (*models.TripDetail, error)
	CancelTrip(ctx context.Context, tripID string) error
	RemoveRider(ctx context.Context, input trips.RemoveRiderInput) error
	GetTripDetail(ctx context.Context, tripID string) (*models.TripDetail, error)
}

// Notifier fans match events out to rider topics.
type Notifier interface {
	RideMatched(ctx context.Context, userID string, trip *models.TripDetail)
	RiderLeft(ctx context.Context, userID, tripID, cancelledUserID string, updated *models.TripDetail)
}

// Service is the matching engine. One instance per worker; instances
// share nothing and coordinate purely through the pool's atomic ops.
type Service struct {
	pool     PoolStore
	trips    TripStore
	indexer  RouteIndexer
	detour   DetourProber
	notifier Notifier
	cfg      *config.MatcherConfig
}

// NewService wires a matching engine over its collaborators.
func NewService(poolStore PoolStore, tripStore TripStore, indexer RouteIndexer, detour DetourProber, notifier Notifier, cfg *config.MatcherConfig) *Service {
	return &Service{
		pool:     poolStore,
		trips:    tripStore,
		indexer:  indexer,
		detour:   detour,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Match registers the caller in the pool and runs the pairing search:
// supersets of the caller's route first, then subsets among the lex
// neighbours, then bounded detours. The first candidate to survive the
// capacity check and the atomic claim wins.
func (s *Service) Match(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	var res *Result
	err := tracing.TraceBusinessLogic(ctx, tracerName, "match_ride",
		tracing.MatchAttributes(req.UserID, "", 0),
		func(ctx context.Context) error {
			var innerErr error
			res, innerErr = s.match(ctx, req)
			return innerErr
		})

	outcome := matchOutcome(res, err)
	metrics.RecordMatchRequest(outcome)
	metrics.ObserveMatchDuration(outcome, time.Since(start))
	return res, err
}

func (s *Service) match(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, common.NewValidationError("user_id is required")
	}
	if err := validation.ValidatePassengerLoad(req.PassengerCount, req.LuggageUnits, s.cfg.MaxPassengers, s.cfg.LuggageCapacity); err != nil {
		return nil, common.NewBadRequestError("request can never fit one cab", err)
	}

	r, err := s.indexer.ComputeRoute(ctx, req.DestinationLatitude, req.DestinationLongitude)
	if err != nil {
		// Nothing has touched the pool yet.
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.MatchAttributes("", req.UserID, len(r.Cells))...)

	caller := pool.NewPassengerEntry(pool.Member{
		UserID:               req.UserID,
		RouteSignature:       r.Signature,
		DestinationLatitude:  req.DestinationLatitude,
		DestinationLongitude: req.DestinationLongitude,
		DistanceKm:           r.TotalKm,
		PassengerCount:       req.PassengerCount,
		LuggageUnits:         req.LuggageUnits,
		BaseFare:             s.soloFare(r.TotalKm),
	})

	// Self-registration before the scans, so every concurrent requester
	// can already see and claim this rider.
	if err := s.pool.PutMeta(ctx, caller); err != nil {
		return nil, err
	}
	if err := s.pool.AddMember(ctx, caller); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "rider registered in pool",
		zap.String("user_id", req.UserID),
		zap.Int("route_cells", r.Signature.CellCount()),
		zap.Float64("distance_km", r.TotalKm),
		zap.Int("base_fare", caller.IssuedPrice),
	)

	res, err := s.runScan(ctx, caller)
	if err != nil {
		if errors.Is(err, errCallerClaimed) {
			logger.InfoContext(ctx, "rider claimed by concurrent pairing mid-scan",
				zap.String("user_id", req.UserID))
			return s.unmatched(caller), nil
		}
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return s.unmatched(caller), nil
}

// unmatched reports a registration that found no pair; the entry stays
// in the pool for later arrivals.
func (s *Service) unmatched(caller *pool.Entry) *Result {
	return &Result{Kind: KindNone, UserID: caller.ID, BaseFare: caller.IssuedPrice}
}

func (s *Service) runScan(ctx context.Context, caller *pool.Entry) (*Result, error) {
	callerRec := pool.Membership{Signature: caller.RouteSignature, EntryID: caller.ID}

	res, err := s.scanSupersets(ctx, caller, callerRec)
	if res != nil || err != nil {
		return res, err
	}

	neighbours, err := s.neighbourhood(ctx, caller.RouteSignature)
	if err != nil {
		return nil, err
	}

	res, err = s.scanSubsets(ctx, caller, callerRec, neighbours)
	if res != nil || err != nil {
		return res, err
	}

	return s.scanDetours(ctx, caller, callerRec, neighbours)
}

// scanSupersets looks for entries whose signature extends the caller's:
// the cab drops the caller off along the candidate's route. Trip
// entries are eligible here, this is the one path that grows a trip.
func (s *Service) scanSupersets(ctx context.Context, caller *pool.Entry, callerRec pool.Membership) (*Result, error) {
	sig := string(caller.RouteSignature)
	cands, err := s.pool.RangeLex(ctx, "["+sig, "["+sig+"\xff", int64(s.cfg.NeighbourScanLimit))
	if err != nil {
		return nil, err
	}

	for _, cand := range cands {
		if cand.EntryID == caller.ID {
			continue
		}
		res, err := s.tryClaim(ctx, caller, callerRec, cand, stepSuperset, 0, "")
		if res != nil || err != nil {
			return res, err
		}
	}
	return nil, nil
}

// neighbourhood fetches the caller's nearest lex neighbours on both
// sides. A signature that is a prefix of the caller's sorts before or
// after it depending on the first diverging character, so subset and
// detour candidates live in both directions.
func (s *Service) neighbourhood(ctx context.Context, sig route.Signature) ([]pool.Membership, error) {
	limit := int64(s.cfg.NeighbourScanLimit)

	preds, err := s.pool.RevRangeLex(ctx, "("+string(sig), "-", limit)
	if err != nil {
		return nil, err
	}
	succs, err := s.pool.RangeLex(ctx, "("+string(sig), "+", limit)
	if err != nil {
		return nil, err
	}

	return append(preds, succs...), nil
}

// scanSubsets looks for waiting passengers whose signature is a prefix
// of the caller's: the cab serves them along the trunk and carries the
// caller further. Trip entries are skipped.
func (s *Service) scanSubsets(ctx context.Context, caller *pool.Entry, callerRec pool.Membership, neighbours []pool.Membership) (*Result, error) {
	for _, cand := range neighbours {
		if cand.EntryID == caller.ID || cand.IsTrip() {
			continue
		}
		if !caller.RouteSignature.HasPrefix(cand.Signature) {
			continue
		}
		res, err := s.tryClaim(ctx, caller, callerRec, cand, stepSubset, 0, "")
		if res != nil || err != nil {
			return res, err
		}
	}
	return nil, nil
}

// scanDetours falls back to partial overlap: ride the shared trunk,
// then measure the real driving distance from the split cell to the
// candidate's destination. A candidate beating the running minimum is
// claimed immediately, so the winner is the first acceptably short
// detour, not a global optimum. The minimum still tightens on skipped
// candidates.
func (s *Service) scanDetours(ctx context.Context, caller *pool.Entry, callerRec pool.Membership, neighbours []pool.Membership) (*Result, error) {
	best := s.cfg.DetourMaxMeters

	for _, cand := range neighbours {
		if cand.EntryID == caller.ID || cand.IsTrip() {
			continue
		}
		k := route.CommonPrefixCells(caller.RouteSignature, cand.Signature)
		if k == 0 {
			continue
		}
		splitCell := caller.RouteSignature.SplitCell(k)
		destCell := cand.Signature.DestinationCell()

		meters, err := s.detour.DetourMeters(ctx, splitCell, destCell)
		if err != nil {
			metrics.RecordDetourCheck("error")
			logger.WarnContext(ctx, "detour probe failed, skipping candidate",
				zap.String("candidate", cand.EntryID),
				zap.String("split_cell", splitCell),
				zap.Error(err))
			continue
		}
		if meters >= best {
			metrics.RecordDetourCheck("exceeded")
			continue
		}
		metrics.RecordDetourCheck("within")
		best = meters

		res, err := s.tryClaim(ctx, caller, callerRec, cand, stepDetour, meters, splitCell)
		if res != nil || err != nil {
			return res, err
		}
	}
	return nil, nil
}

// tryClaim runs the capacity check and the atomic pairing claim against
// one candidate. A nil, nil return means the candidate was unusable and
// the scan continues.
func (s *Service) tryClaim(ctx context.Context, caller *pool.Entry, callerRec pool.Membership, cand pool.Membership, step string, detourMeters int, splitCell string) (*Result, error) {
	peer, err := s.pool.GetMeta(ctx, cand.EntryID)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		// Claimed or removed since the scan returned it.
		logger.DebugContext(ctx, "candidate metadata gone, skipping",
			zap.String("candidate", cand.EntryID))
		return nil, nil
	}

	if peer.PassengerCount+caller.PassengerCount > s.cfg.MaxPassengers ||
		peer.LuggageUnits+caller.LuggageUnits > s.cfg.LuggageCapacity {
		logger.DebugContext(ctx, "candidate over capacity, skipping",
			zap.String("candidate", cand.EntryID),
			zap.Int("passengers", peer.PassengerCount+caller.PassengerCount),
			zap.Int("luggage", peer.LuggageUnits+caller.LuggageUnits))
		return nil, nil
	}

	verdict, err := s.pool.ClaimPair(ctx, callerRec, cand)
	if err != nil {
		return nil, err
	}
	switch verdict {
	case pool.ClaimPeerGone:
		metrics.RecordCommitConflict()
		logger.DebugContext(ctx, "lost claim race on candidate",
			zap.String("candidate", cand.EntryID))
		return nil, nil
	case pool.ClaimCallerGone:
		metrics.RecordCommitConflict()
		return nil, errCallerClaimed
	}

	return s.commitPair(ctx, caller, peer, step, detourMeters, splitCell)
}

// commitPair owns both claimed entries: fold them into a single trip
// entry, persist durably, notify the peer side. Pool writes are ordered
// so a scanner never sees a trip member without its metadata.
func (s *Service) commitPair(ctx context.Context, caller, peer *pool.Entry, step string, detourMeters int, splitCell string) (*Result, error) {
	extending := peer.IsTrip()

	passengers := caller.PassengerCount + peer.PassengerCount
	luggage := caller.LuggageUnits + peer.LuggageUnits
	sealed := passengers == s.cfg.MaxPassengers || luggage == s.cfg.LuggageCapacity

	tripID := peer.ID
	if !extending {
		tripID = models.NewTripID()
	}

	members := make([]pool.Member, 0, len(peer.Members)+len(caller.Members))
	members = append(members, peer.Members...)
	members = append(members, caller.Members...)

	trip := pool.NewTripEntry(tripID,
		route.Longer(caller.RouteSignature, peer.RouteSignature),
		members,
		s.pooledFare(peer.IssuedPrice),
		sealed,
	)

	if err := s.pool.PutMeta(ctx, trip); err != nil {
		return nil, err
	}
	if !sealed {
		// A sealed trip leaves the matchable pool; only its metadata
		// stays behind for cleanup and reconciliation.
		if err := s.pool.AddMember(ctx, trip); err != nil {
			return nil, err
		}
	}

	consumed := []string{caller.ID}
	if !extending {
		consumed = append(consumed, peer.ID)
	}
	if err := s.pool.DelMeta(ctx, consumed...); err != nil {
		return nil, err
	}

	metrics.RecordMatch(step)
	logger.InfoContext(ctx, "pairing committed",
		zap.String("user_id", caller.ID),
		zap.String("peer_id", peer.ID),
		zap.String("trip_id", tripID),
		zap.String("step", step),
		zap.Int("passengers", passengers),
		zap.Int("luggage", luggage),
		zap.Bool("sealed", sealed),
		zap.Int("fare_each", trip.IssuedPrice),
	)

	detail := s.persist(ctx, trip, caller.ID, extending)

	// Prior members hear about the join on their own topics; the
	// caller gets the result returned instead.
	for _, m := range peer.Members {
		s.notifier.RideMatched(ctx, m.UserID, detail)
	}

	kind := KindDirect
	if step == stepDetour {
		kind = KindBestDetour
	}
	return &Result{
		Kind:         kind,
		UserID:       caller.ID,
		BaseFare:     caller.IssuedPrice,
		PeerID:       peer.ID,
		TripID:       tripID,
		FareEach:     trip.IssuedPrice,
		DetourMeters: detourMeters,
		SplitCell:    splitCell,
		Trip:         detail,
	}, nil
}

// persist runs the durable transaction. Failure never unwinds the pool
// commit: the trip rides on with a nil snapshot and the reconciler
// catches the divergence.
func (s *Service) persist(ctx context.Context, trip *pool.Entry, callerID string, extending bool) *models.TripDetail {
	input := trips.CommitInput{
		TripID:         trip.ID,
		CallerID:       callerID,
		Extending:      extending,
		Status:         trip.Status,
		FareEach:       trip.IssuedPrice,
		RouteSignature: string(trip.RouteSignature),
		PassengerCount: trip.PassengerCount,
		LuggageUnits:   trip.LuggageUnits,
		Members:        memberInputs(trip.Members),
	}

	detail, err := s.trips.CommitMatch(ctx, input)
	if err != nil {
		if errors.Is(err, trips.ErrUserNotFound) {
			logger.WarnContext(ctx, "caller has no user row, durable commit skipped",
				zap.String("trip_id", trip.ID),
				zap.String("user_id", callerID))
			return nil
		}
		logger.ErrorContext(ctx, "durable trip commit failed",
			zap.String("trip_id", trip.ID),
			zap.Error(err))
		return nil
	}

	tracing.AddSpanAttributes(ctx, tracing.TripAttributes(trip.ID, trip.IssuedPrice)...)
	return detail
}

func memberInputs(members []pool.Member) []trips.MemberInput {
	out := make([]trips.MemberInput, len(members))
	for i, m := range members {
		out[i] = trips.MemberInput{
			UserID:               m.UserID,
			DestinationLatitude:  m.DestinationLatitude,
			DestinationLongitude: m.DestinationLongitude,
			RouteSignature:       string(m.RouteSignature),
			DistanceKm:           m.DistanceKm,
			PassengerCount:       m.PassengerCount,
			LuggageUnits:         m.LuggageUnits,
			BaseFare:             m.BaseFare,
		}
	}
	return out
}

func matchOutcome(res *Result, err error) string {
	switch {
	case err == nil && res != nil && res.Matched():
		return "matched"
	case err == nil:
		return "registered"
	default:
		var appErr *common.AppError
		if errors.As(err, &appErr) && appErr.Kind == common.KindValidationError {
			return "rejected"
		}
		return "error"
	}
}
