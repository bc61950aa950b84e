package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// TestCache_SetGetDelete exercises the Cache interface chargecore actually
// depends on, against a real Redis instance.
func TestCache_SetGetDelete(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil {
		return
	}
	defer TeardownTestEnvironment(t)

	ctx := context.Background()

	t.Run("SetGet", func(t *testing.T) {
		if err := env.Cache.Set(ctx, "chargecore:test:key", "test-value", time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := env.Cache.Get(ctx, "chargecore:test:key")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != "test-value" {
			t.Errorf("expected 'test-value', got %q", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		env.Cache.Set(ctx, "chargecore:test:delete", "value", time.Minute)

		if err := env.Cache.Delete(ctx, "chargecore:test:delete"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := env.Cache.Get(ctx, "chargecore:test:delete"); err == nil {
			t.Error("expected an error getting a deleted key")
		}
	})

	t.Run("Expiration", func(t *testing.T) {
		if err := env.Cache.Set(ctx, "chargecore:test:expiring", "value", 100*time.Millisecond); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
		if _, err := env.Cache.Get(ctx, "chargecore:test:expiring"); err == nil {
			t.Error("expected key to have expired")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := env.Cache.Ping(); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})
}

// TestCache_StationStatusRoundTrip round-trips a JSON-encoded allocation list
// with a short TTL under the key the façade invalidates on every mutation.
func TestCache_StationStatusRoundTrip(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil {
		return
	}
	defer TeardownTestEnvironment(t)

	ctx := context.Background()

	type cachedAllocation struct {
		SessionID      string  `json:"session_id"`
		AllocatedPower float64 `json:"allocated_power"`
	}

	payload := []cachedAllocation{
		{SessionID: "s1", AllocatedPower: 100},
		{SessionID: "s2", AllocatedPower: 100},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	key := "station:status:station-1"
	if err := env.Cache.Set(ctx, key, data, 2*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := env.Cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var decoded []cachedAllocation
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(decoded) != 2 || decoded[0].SessionID != "s1" {
		t.Fatalf("unexpected round-tripped payload: %+v", decoded)
	}
}
