package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/richxcame/airpool/pkg/redis"
)

type statsSnapshot struct {
	WaitingEntries int `json:"waiting_entries"`
	FormingTrips   int `json:"forming_trips"`
}

func newTestManager(t *testing.T) (*Manager, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewManager(&redisclient.Client{Client: db}), mock
}

// waitForExpectations polls because GetOrSet writes the cache off the
// caller's goroutine.
func waitForExpectations(t *testing.T, mock redismock.ClientMock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("unmet expectations: %v", mock.ExpectationsWereMet())
}

// ============== Manager Tests ==============

func TestManager_SetAndGet(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	key := Keys.Detour("8a2a1072b59ffff", "8a2a1072b5b7fff")
	mock.ExpectSet(key, `1830`, 10*time.Minute).SetVal("OK")
	mock.ExpectGet(key).SetVal(`1830`)

	if err := manager.Set(ctx, key, 1830, 10*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var meters int
	if err := manager.Get(ctx, key, &meters); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if meters != 1830 {
		t.Errorf("Get() = %d, want 1830", meters)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("maps:detour:a:b").RedisNil()

	var meters int
	err := manager.Get(ctx, "maps:detour:a:b", &meters)
	if !errors.Is(err, redis.Nil) {
		t.Errorf("Get() error = %v, want redis.Nil", err)
	}
}

func TestManager_Get_InvalidJSON(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("matcher:stats").SetVal("not json")

	var snap statsSnapshot
	if err := manager.Get(ctx, "matcher:stats", &snap); err == nil {
		t.Error("Get() expected unmarshal error")
	}
}

func TestManager_GetOrSet_Hit(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet(Keys.MatcherStats()).SetVal(`{"waiting_entries":4,"forming_trips":1}`)

	called := false
	var snap statsSnapshot
	err := manager.GetOrSet(ctx, Keys.MatcherStats(), TTL.Stats(), &snap, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if called {
		t.Error("GetOrSet() executed fn on a cache hit")
	}
	if snap.WaitingEntries != 4 || snap.FormingTrips != 1 {
		t.Errorf("GetOrSet() = %+v, want {4 1}", snap)
	}
}

func TestManager_GetOrSet_MissComputesAndCaches(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet(Keys.MatcherStats()).RedisNil()
	mock.ExpectSet(Keys.MatcherStats(), `{"waiting_entries":7,"forming_trips":2}`, TTL.Stats()).SetVal("OK")

	var snap statsSnapshot
	err := manager.GetOrSet(ctx, Keys.MatcherStats(), TTL.Stats(), &snap, func() (interface{}, error) {
		return statsSnapshot{WaitingEntries: 7, FormingTrips: 2}, nil
	})
	if err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if snap.WaitingEntries != 7 {
		t.Errorf("WaitingEntries = %d, want 7", snap.WaitingEntries)
	}

	waitForExpectations(t, mock)
}

func TestManager_GetOrSet_FnError(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet(Keys.MatcherStats()).RedisNil()

	wantErr := errors.New("stats query failed")
	var snap statsSnapshot
	err := manager.GetOrSet(ctx, Keys.MatcherStats(), TTL.Stats(), &snap, func() (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("GetOrSet() error = %v, want %v", err, wantErr)
	}
}

func TestManager_Delete(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectDel(Keys.MatcherStats()).SetVal(1)

	if err := manager.Delete(ctx, Keys.MatcherStats()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ============== Cache Keys Tests ==============

func TestCacheKeys_Detour(t *testing.T) {
	key := Keys.Detour("8a2a1072b59ffff", "8a2a1072b5b7fff")
	expected := "maps:detour:8a2a1072b59ffff:8a2a1072b5b7fff"
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}

func TestCacheKeys_MatcherStats(t *testing.T) {
	if key := Keys.MatcherStats(); key != "matcher:stats" {
		t.Errorf("expected matcher:stats, got %s", key)
	}
}

func TestCacheTTL_Stats(t *testing.T) {
	if TTL.Stats() != 30*time.Second {
		t.Errorf("expected 30s, got %v", TTL.Stats())
	}
}
