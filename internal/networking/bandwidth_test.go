package networking

import (
	"math"
	"testing"
	"time"
)

func TestRegulatorShedsOverBudget(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	regulator := NewRegulator(100, clock)

	if !regulator.Allow("ws-1", 60) {
		t.Fatalf("expected initial burst to be allowed")
	}
	if regulator.Allow("ws-1", 50) {
		t.Fatalf("expected message to be shed while tokens are depleted")
	}

	current = current.Add(500 * time.Millisecond)
	if !regulator.Allow("ws-1", 50) {
		t.Fatalf("expected message to pass after partial refill")
	}

	current = current.Add(time.Second)
	usage := regulator.Snapshot()
	if len(usage) != 1 || usage[0].ClientID != "ws-1" {
		t.Fatalf("unexpected usage %+v", usage)
	}
	sample := usage[0]
	if sample.Shed != 1 || sample.Delivered != 2 {
		t.Fatalf("expected 2 delivered and 1 shed, got %+v", sample)
	}
	if sample.AvailableBytes != 100 {
		t.Fatalf("expected the bucket to refill to capacity, got %f", sample.AvailableBytes)
	}
	if want := 110 / 1.5; math.Abs(sample.BytesPerSecond-want) > 1e-9 {
		t.Fatalf("unexpected throughput: got %.6f want %.6f", sample.BytesPerSecond, want)
	}
	if regulator.TotalShed() != 1 {
		t.Fatalf("expected one shed message in total")
	}

	regulator.Forget("ws-1")
	if usage := regulator.Snapshot(); len(usage) != 0 {
		t.Fatalf("expected usage cleared after forget, got %d entries", len(usage))
	}
}

func TestRegulatorOrdersClientsAndIgnoresBackwardClock(t *testing.T) {
	current := time.Unix(10, 0)
	regulator := NewRegulator(0, func() time.Time { return current })
	regulator.Allow("b", 10)
	regulator.Allow("a", 10)
	current = current.Add(-time.Second)
	usage := regulator.Snapshot()
	if len(usage) != 2 || usage[0].ClientID != "a" || usage[1].ClientID != "b" {
		t.Fatalf("expected clients sorted by id, got %+v", usage)
	}
	if usage[0].AvailableBytes != DefaultBytesPerSecond-10 {
		t.Fatalf("backward clock must not refill, got %f", usage[0].AvailableBytes)
	}
}

func TestNilRegulatorAllows(t *testing.T) {
	var regulator *Regulator
	if !regulator.Allow("x", 1<<20) {
		t.Fatalf("nil regulator should allow")
	}
	if regulator.Snapshot() != nil || regulator.TotalShed() != 0 {
		t.Fatalf("nil regulator should report nothing")
	}
}
