package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/models"
	redisclient "github.com/richxcame/airpool/pkg/redis"
)

// DefaultSetKey is the lex-ordered membership set shared by every worker.
const DefaultSetKey = "h3:airport_pool"

const metaKeyPrefix = "pool:entry:"

// MetaKey returns the metadata key for a pool entry id.
func MetaKey(entryID string) string {
	return metaKeyPrefix + entryID
}

// Store is the thin adapter every pairing and cleanup path goes through.
// Each method maps to a single atomic pool operation; multi-op sequences
// belong to the engine and are written to tolerate partial completion.
type Store struct {
	redis  *redisclient.Client
	setKey string
}

// NewStore wires a Store over the shared Redis client. An empty setKey
// selects DefaultSetKey.
func NewStore(client *redisclient.Client, setKey string) *Store {
	if setKey == "" {
		setKey = DefaultSetKey
	}
	return &Store{redis: client, setKey: setKey}
}

// PutMeta overwrites the metadata stored under e.ID.
func (s *Store) PutMeta(ctx context.Context, e *Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return common.NewPoolUnavailableError(fmt.Errorf("marshal entry %s: %w", e.ID, err))
	}
	if err := s.redis.RetryableSet(ctx, MetaKey(e.ID), payload, 0); err != nil {
		return common.NewPoolUnavailableError(fmt.Errorf("put meta %s: %w", e.ID, err))
	}
	return nil
}

// GetMeta returns the metadata for entryID, or nil when the entry is
// gone. Absence is not an error: the engine reads it as a candidate that
// lost a concurrent pairing race.
func (s *Store) GetMeta(ctx context.Context, entryID string) (*Entry, error) {
	raw, err := s.redis.RetryableGet(ctx, MetaKey(entryID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, common.NewPoolUnavailableError(fmt.Errorf("get meta %s: %w", entryID, err))
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("decode meta %s: %w", entryID, err))
	}
	return &e, nil
}

// DelMeta deletes the metadata keys for the given ids in one batched call.
func (s *Store) DelMeta(ctx context.Context, entryIDs ...string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	keys := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		keys[i] = MetaKey(id)
	}
	if err := s.redis.RetryableDelete(ctx, keys...); err != nil {
		return common.NewPoolUnavailableError(fmt.Errorf("del meta: %w", err))
	}
	return nil
}

// AddMember inserts the entry's membership record into the lex set.
func (s *Store) AddMember(ctx context.Context, e *Entry) error {
	if err := s.redis.RetryableZAddLexMember(ctx, s.setKey, e.MemberRecord()); err != nil {
		return common.NewPoolUnavailableError(fmt.Errorf("add member %s: %w", e.ID, err))
	}
	return nil
}

// ClaimVerdict is the outcome of a pairing claim.
type ClaimVerdict int

const (
	// ClaimWon: both members were removed; the pairing is committed.
	ClaimWon ClaimVerdict = iota
	// ClaimPeerGone: the peer was already claimed. The caller's member
	// has been put back and the scan may continue.
	ClaimPeerGone
	// ClaimCallerGone: a concurrent worker claimed the caller first.
	// The scan must stop; that worker owns the caller's pairing now.
	ClaimCallerGone
)

// ClaimPair removes the caller's and the peer's membership records in
// one atomic call. Removing both is the pairing commit point: exactly
// one concurrent claimant can observe both removals. The call is never
// retried, since a blind retry would re-remove nothing and report a won
// pair as lost. On a partial claim the member that was wrongly taken is
// restored, so a lost race never strands a record outside the pool.
func (s *Store) ClaimPair(ctx context.Context, caller, peer Membership) (ClaimVerdict, error) {
	callerRemoved, peerRemoved, err := s.redis.RemovePairMembers(ctx, s.setKey, caller.Record(), peer.Record())
	if err != nil {
		return 0, common.NewPoolUnavailableError(fmt.Errorf("claim pair: %w", err))
	}

	switch {
	case callerRemoved == 1 && peerRemoved == 1:
		return ClaimWon, nil
	case callerRemoved == 0:
		if peerRemoved == 1 {
			if err := s.redis.RetryableZAddLexMember(ctx, s.setKey, peer.Record()); err != nil {
				return 0, common.NewPoolUnavailableError(fmt.Errorf("restore peer %s: %w", peer.EntryID, err))
			}
		}
		return ClaimCallerGone, nil
	default:
		if err := s.redis.RetryableZAddLexMember(ctx, s.setKey, caller.Record()); err != nil {
			return 0, common.NewPoolUnavailableError(fmt.Errorf("restore caller %s: %w", caller.EntryID, err))
		}
		return ClaimPeerGone, nil
	}
}

// RemoveMembers removes the given members in one batched call and
// returns how many were actually present. Cleanup paths remove by raw
// member string, so the count only reports how much was left to do.
func (s *Store) RemoveMembers(ctx context.Context, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	removed, err := s.redis.RemoveMembers(ctx, s.setKey, args...)
	if err != nil {
		return 0, common.NewPoolUnavailableError(fmt.Errorf("remove members: %w", err))
	}
	return removed, nil
}

// RangeLex returns up to limit members between min and max in ascending
// lex order. Bounds use Redis lex-range syntax ("[", "(", "-", "+").
func (s *Store) RangeLex(ctx context.Context, min, max string, limit int64) ([]Membership, error) {
	raw, err := s.redis.RetryableZRangeByLex(ctx, s.setKey, min, max, limit)
	if err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("lex range: %w", err))
	}
	return s.parseMembers(ctx, raw), nil
}

// RevRangeLex returns up to limit members between max and min in
// descending lex order.
func (s *Store) RevRangeLex(ctx context.Context, max, min string, limit int64) ([]Membership, error) {
	raw, err := s.redis.RetryableZRevRangeByLex(ctx, s.setKey, max, min, limit)
	if err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("lex rev range: %w", err))
	}
	return s.parseMembers(ctx, raw), nil
}

// MembersForID returns every raw member whose id suffix equals entryID.
// Cleanup removes by exact member string, so results stay unparsed.
func (s *Store) MembersForID(ctx context.Context, entryID string) ([]string, error) {
	raw, err := s.redis.RetryableScanMembers(ctx, s.setKey, "*"+Separator+entryID)
	if err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("scan members %s: %w", entryID, err))
	}
	return raw, nil
}

// TripEntries returns the metadata of every trip entry currently in the
// pool, sealed trips included. Sealed trips carry no membership record,
// so this scans the metadata keyspace rather than the lex set. Cleanup
// finds a rider's forming trip here; the reconciler compares the result
// against durable trip rows.
func (s *Store) TripEntries(ctx context.Context) ([]*Entry, error) {
	keys, err := s.redis.RetryableScanKeys(ctx, MetaKey(models.TripIDPrefix+"*"))
	if err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("scan trip metas: %w", err))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.redis.MGetStrings(ctx, keys...)
	if err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("mget trip metas: %w", err))
	}

	entries := make([]*Entry, 0, len(keys))
	for i, v := range values {
		if v == "" {
			// Deleted between scan and fetch; nothing to report.
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			logger.WarnContext(ctx, "pool: undecodable trip metadata", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// AllMembers returns every membership record in the lex set. Only the
// reconciler walks the whole pool; the match path never does.
func (s *Store) AllMembers(ctx context.Context) ([]Membership, error) {
	raw, err := s.redis.RetryableScanMembers(ctx, s.setKey, "*")
	if err != nil {
		return nil, common.NewPoolUnavailableError(fmt.Errorf("scan members: %w", err))
	}
	return s.parseMembers(ctx, raw), nil
}

// Size returns the number of members currently in the lex set.
func (s *Store) Size(ctx context.Context) (int64, error) {
	n, err := s.redis.ZCard(ctx, s.setKey).Result()
	if err != nil {
		return 0, common.NewPoolUnavailableError(fmt.Errorf("zcard: %w", err))
	}
	return n, nil
}

func (s *Store) parseMembers(ctx context.Context, raw []string) []Membership {
	memberships := make([]Membership, 0, len(raw))
	for _, member := range raw {
		m, ok := ParseMember(member)
		if !ok {
			logger.WarnContext(ctx, "pool: skipping malformed member", zap.String("member", member))
			continue
		}
		memberships = append(memberships, m)
	}
	return memberships
}
