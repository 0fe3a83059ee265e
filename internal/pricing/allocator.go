package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Line describes a cart line used for discount allocation.
type Line struct {
	UnitCents Money
	Qty       int
}

// Snapshot is the immutable result of allocating a discounted total across
// lines. DiscountedTotalCents is the total the per-line amounts actually sum
// to; when the allocation is exact it equals the requested target.
type Snapshot struct {
	GrossTotalCents      Money
	DiscountedTotalCents Money
	PerLineUnitCents     []Money
	Discounted           bool
}

// Gross sums line totals, skipping non-positive quantities.
func Gross(lines []Line) Money {
	var total Money
	for _, ln := range lines {
		if ln.Qty <= 0 || ln.UnitCents <= 0 {
			continue
		}
		total += ln.UnitCents * Money(ln.Qty)
	}
	return total
}

// Allocate distributes a target discounted total across lines so that each
// discounted unit amount stays within [0, gross unit] and remains proportional
// to the gross amount within rounding. The rounding remainder is corrected
// starting from the last line and spilling toward the first, so the sum is
// exact whenever line quantity granularity permits. Discounting never
// increases a price: for target >= gross, target <= 0, or a degenerate cart
// the gross unit amounts are returned unchanged.
func Allocate(lines []Line, target Money) Snapshot {
	gross := Gross(lines)
	units := make([]Money, len(lines))
	for i, ln := range lines {
		units[i] = ln.UnitCents
	}
	snap := Snapshot{
		GrossTotalCents:      gross,
		DiscountedTotalCents: gross,
		PerLineUnitCents:     units,
	}
	if len(lines) == 0 || gross <= 0 || target <= 0 || target >= gross {
		return snap
	}

	discounted := make([]Money, len(lines))
	var accumulated Money
	for i, ln := range lines {
		if ln.Qty <= 0 {
			discounted[i] = ln.UnitCents
			continue
		}
		d := ln.UnitCents * target / gross
		d = clampUnit(d, ln.UnitCents)
		discounted[i] = d
		accumulated += d * Money(ln.Qty)
	}

	// Floor rounding always undershoots, so the remainder is non-negative.
	// Absorb it right-to-left in whole per-unit steps; a line with qty 1 can
	// absorb any remainder, lines with larger quantities absorb what their
	// granularity allows.
	remaining := target - accumulated
	for i := len(lines) - 1; i >= 0 && remaining != 0; i-- {
		qty := Money(lines[i].Qty)
		if qty <= 0 {
			continue
		}
		adjust := remaining / qty
		if adjust == 0 {
			continue
		}
		next := clampUnit(discounted[i]+adjust, lines[i].UnitCents)
		remaining -= (next - discounted[i]) * qty
		discounted[i] = next
	}

	snap.PerLineUnitCents = discounted
	snap.DiscountedTotalCents = target - remaining
	snap.Discounted = true
	return snap
}

// Exact reports whether the allocation reached the requested target without a
// residual caused by quantity granularity or per-line clamping.
func (s Snapshot) Exact(target Money) bool {
	return s.DiscountedTotalCents == target
}

// DiscountCents returns the total discount the snapshot represents.
func (s Snapshot) DiscountCents() Money {
	if !s.Discounted {
		return 0
	}
	return s.GrossTotalCents - s.DiscountedTotalCents
}

func clampUnit(v, max Money) Money {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
