package pricing

import (
	"math/rand"
	"testing"
)

func TestAllocateEvenSplit(t *testing.T) {
	lines := []Line{{UnitCents: 1000, Qty: 1}, {UnitCents: 1000, Qty: 1}}
	snap := Allocate(lines, 1500)
	if !snap.Discounted {
		t.Fatal("expected discount to apply")
	}
	if snap.PerLineUnitCents[0] != 750 || snap.PerLineUnitCents[1] != 750 {
		t.Fatalf("expected [750 750], got %v", snap.PerLineUnitCents)
	}
	if snap.DiscountedTotalCents != 1500 {
		t.Fatalf("expected total 1500, got %d", snap.DiscountedTotalCents)
	}
}

func TestAllocateRoundingRemainder(t *testing.T) {
	lines := []Line{{UnitCents: 333, Qty: 1}, {UnitCents: 333, Qty: 1}, {UnitCents: 334, Qty: 1}}
	snap := Allocate(lines, 667)
	want := []Money{222, 222, 223}
	for i, w := range want {
		if snap.PerLineUnitCents[i] != w {
			t.Fatalf("line %d: expected %d, got %d", i, w, snap.PerLineUnitCents[i])
		}
	}
	if snap.DiscountedTotalCents != 667 {
		t.Fatalf("expected exact total 667, got %d", snap.DiscountedTotalCents)
	}
}

func TestAllocatePassthrough(t *testing.T) {
	lines := []Line{{UnitCents: 500, Qty: 2}, {UnitCents: 300, Qty: 1}}

	for _, target := range []Money{0, -100, 1300, 2000} {
		snap := Allocate(lines, target)
		if snap.Discounted {
			t.Fatalf("target %d: discount should not apply", target)
		}
		if snap.PerLineUnitCents[0] != 500 || snap.PerLineUnitCents[1] != 300 {
			t.Fatalf("target %d: gross units must pass through, got %v", target, snap.PerLineUnitCents)
		}
	}

	if snap := Allocate(nil, 100); snap.Discounted || snap.GrossTotalCents != 0 {
		t.Fatalf("empty cart must be a passthrough, got %+v", snap)
	}
}

func TestAllocateSpillsPastClampedLastLine(t *testing.T) {
	// Floors lose two cents here and the last line can only absorb one of
	// them before hitting its gross value; the rest spills to the middle line.
	lines := []Line{{UnitCents: 9, Qty: 1}, {UnitCents: 9, Qty: 1}, {UnitCents: 2, Qty: 1}}
	snap := Allocate(lines, 13)
	if snap.DiscountedTotalCents != 13 {
		t.Fatalf("expected exact total 13, got %d", snap.DiscountedTotalCents)
	}
	if snap.PerLineUnitCents[2] != 2 {
		t.Fatalf("last line should clamp at its gross value, got %d", snap.PerLineUnitCents[2])
	}
	var sum Money
	for i, d := range snap.PerLineUnitCents {
		if d < 0 || d > lines[i].UnitCents {
			t.Fatalf("line %d: unit %d out of [0,%d]", i, d, lines[i].UnitCents)
		}
		sum += d * Money(lines[i].Qty)
	}
	if sum != 13 {
		t.Fatalf("line sum %d does not match reported total", sum)
	}
}

func TestAllocateQuantityGranularityResidual(t *testing.T) {
	// A single line with qty 2 cannot represent an odd total; the allocator
	// keeps the closest reachable total instead of inventing a fractional
	// per-unit price.
	lines := []Line{{UnitCents: 5, Qty: 2}}
	snap := Allocate(lines, 5)
	if snap.DiscountedTotalCents != 4 {
		t.Fatalf("expected achievable total 4, got %d", snap.DiscountedTotalCents)
	}
	if snap.Exact(5) {
		t.Fatal("allocation should report the residual")
	}
	if snap.PerLineUnitCents[0] != 2 {
		t.Fatalf("expected unit 2, got %d", snap.PerLineUnitCents[0])
	}
}

func TestAllocateInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(6)
		lines := make([]Line, n)
		allUnitQty := true
		for i := range lines {
			lines[i] = Line{UnitCents: Money(1 + rng.Intn(5000)), Qty: 1 + rng.Intn(4)}
			if lines[i].Qty != 1 {
				allUnitQty = false
			}
		}
		gross := Gross(lines)
		target := Money(1 + rng.Int63n(gross-1+1))
		if target >= gross {
			target = gross - 1
		}
		if target <= 0 {
			continue
		}
		snap := Allocate(lines, target)
		var sum Money
		for i, d := range snap.PerLineUnitCents {
			if d < 0 || d > lines[i].UnitCents {
				t.Fatalf("iter %d line %d: unit %d out of bounds", iter, i, d)
			}
			sum += d * Money(lines[i].Qty)
		}
		if sum != snap.DiscountedTotalCents {
			t.Fatalf("iter %d: reported total %d != line sum %d", iter, snap.DiscountedTotalCents, sum)
		}
		if sum > target {
			t.Fatalf("iter %d: allocation overshot target: %d > %d", iter, sum, target)
		}
		if allUnitQty && sum != target {
			t.Fatalf("iter %d: all quantities are 1, sum %d should equal target %d", iter, sum, target)
		}
	}
}
