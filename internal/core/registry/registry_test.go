package registry

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/domain"
)

func testStation() domain.StationConfig {
	return domain.StationConfig{
		StationID:    "station-1",
		GridCapacity: 400,
		Chargers: []domain.ChargerConfig{
			{ChargerID: "CP001", MaxPower: 200, Connectors: 2},
			{ChargerID: "CP002", MaxPower: 200, Connectors: 2},
		},
	}
}

func TestStartRejectsUnknownCharger(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	_, err := r.Start("CP999", 1, 50)
	if !errors.Is(err, domain.ErrUnknownCharger) {
		t.Fatalf("expected ErrUnknownCharger, got %v", err)
	}
}

func TestStartRejectsInvalidConnector(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	for _, cid := range []int{0, 3, -1} {
		_, err := r.Start("CP001", cid, 50)
		if !errors.Is(err, domain.ErrInvalidConnector) {
			t.Fatalf("connector %d: expected ErrInvalidConnector, got %v", cid, err)
		}
	}
}

func TestStartSucceedsAndStopFreesConnector(t *testing.T) {
	r := New(testStation(), zap.NewNop())

	s1, err := r.Start("CP001", 1, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsConnectorAvailable("CP001", 1) {
		t.Fatal("connector should be occupied after start")
	}

	if _, err := r.Stop(s1.SessionID); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if !r.IsConnectorAvailable("CP001", 1) {
		t.Fatal("connector should be free after stop")
	}

	s2, err := r.Start("CP001", 1, 50)
	if err != nil {
		t.Fatalf("unexpected error on restart: %v", err)
	}
	if s2.SessionID == s1.SessionID {
		t.Fatal("restart must yield a different session id")
	}
}

func TestStartRejectsOccupiedConnector(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	if _, err := r.Start("CP001", 1, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Start("CP001", 1, 50)
	if !errors.Is(err, domain.ErrConnectorOccupied) {
		t.Fatalf("expected ErrConnectorOccupied, got %v", err)
	}
}

func TestStopUnknownSessionReturnsNotFound(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	_, err := r.Stop("does-not-exist")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdatePowerRejectsInvalidInput(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	s, _ := r.Start("CP001", 1, 50)

	tests := []struct {
		name     string
		consumed float64
		vehicle  float64
	}{
		{"consumed exceeds vehicle max", 60, 50},
		{"negative consumed", -1, 50},
		{"negative vehicle max", 10, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.UpdatePower(s.SessionID, tt.consumed, tt.vehicle)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestUpdatePowerAccumulatesEnergyMonotonically(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	s, _ := r.Start("CP001", 1, 50)

	if err := r.UpdatePower(s.SessionID, 10, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := r.Get(s.SessionID)

	if err := r.UpdatePower(s.SessionID, 20, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := r.Get(s.SessionID)

	if second.TotalEnergy < first.TotalEnergy {
		t.Fatalf("totalEnergy must never decrease: first=%v second=%v", first.TotalEnergy, second.TotalEnergy)
	}
	if second.ConsumedPower != 20 {
		t.Fatalf("expected consumedPower=20, got %v", second.ConsumedPower)
	}
}

func TestSetAllocatedClampsNegative(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	s, _ := r.Start("CP001", 1, 50)

	r.SetAllocated(s.SessionID, -10)
	updated, _ := r.Get(s.SessionID)
	if updated.AllocatedPower != 0 {
		t.Fatalf("expected allocatedPower clamped to 0, got %v", updated.AllocatedPower)
	}
}

func TestSetAllocatedIgnoresUnknownSession(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	// Must not panic.
	r.SetAllocated("does-not-exist", 10)
}

// TestScenarioDConcurrentStartExclusivity exercises spec.md Scenario D: 10
// concurrent startSession attempts on 2 connectors, exactly 2 succeed.
func TestScenarioDConcurrentStartExclusivity(t *testing.T) {
	r := New(testStation(), zap.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	rejections := 0

	attempt := func(connectorID int) {
		defer wg.Done()
		_, err := r.Start("CP001", connectorID, 50)
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			successes++
		} else if errors.Is(err, domain.ErrConnectorOccupied) {
			rejections++
		}
	}

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go attempt(1)
		go attempt(2)
	}
	wg.Wait()

	if successes != 2 {
		t.Fatalf("expected exactly 2 successful starts, got %d", successes)
	}
	if rejections != 8 {
		t.Fatalf("expected exactly 8 rejections, got %d", rejections)
	}
	agg := r.Aggregate()
	if agg.ActiveCount != 2 {
		t.Fatalf("expected final active count 2, got %d", agg.ActiveCount)
	}
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	r := New(testStation(), zap.NewNop())
	s, _ := r.Start("CP001", 1, 50)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 snapshot entry, got %d", len(snap))
	}

	r.SetAllocated(s.SessionID, 99)

	if snap[0].AllocatedPower == 99 {
		t.Fatalf("snapshot must not reflect mutations taken after it was captured")
	}
}
