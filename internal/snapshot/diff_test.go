package snapshot

import (
	"testing"

	"stockhunter/internal/model"
)

func size(name string, av model.Availability, price float64) model.Size {
	return model.Size{
		ID:           "sz-" + name,
		Name:         name,
		Availability: av,
		Price:        price,
	}
}

func color(name string, sizes ...model.Size) model.Color {
	return model.Color{
		ID:    "c-" + name,
		Name:  name,
		Sizes: sizes,
	}
}

func product(colors ...model.Color) *model.Product {
	return &model.Product{
		ID:     "p-1",
		Name:   "Runner Jacket",
		Colors: colors,
	}
}

func TestEqual_ReflexiveAndDiffEmpty(t *testing.T) {
	p := product(
		color("Red", size("M", model.InStock, 100), size("L", model.OutOfStock, 100)),
		color("Blue", size("S", model.LowStock, 80)),
	)

	if !Equal(p, p) {
		t.Fatalf("Equal(S, S) must be true")
	}
	d := Diff(p, p)
	if !d.Empty() {
		t.Fatalf("Diff(S, S) must be empty, got %+v", d)
	}
}

func TestEqual_IgnoresRestockCounter(t *testing.T) {
	a := product(color("Red", size("M", model.InStock, 100)))
	b := product(color("Red", size("M", model.InStock, 100)))
	b.Colors[0].Sizes[0].RestockCount = 2

	if !Equal(a, b) {
		t.Fatalf("restock counter must not participate in Equal")
	}
}

func TestEqual_OrderInsensitive(t *testing.T) {
	a := product(
		color("Red", size("M", model.InStock, 100), size("L", model.InStock, 100)),
		color("Blue", size("S", model.InStock, 80)),
	)
	b := product(
		color("Blue", size("S", model.InStock, 80)),
		color("Red", size("L", model.InStock, 100), size("M", model.InStock, 100)),
	)

	if !Equal(a, b) {
		t.Fatalf("Equal must match by name, not position")
	}
}

func TestDiff_NotEqualImpliesNonEmptyDiff(t *testing.T) {
	base := product(color("Red", size("M", model.InStock, 100)))

	variants := []*model.Product{
		product(color("Red", size("M", model.OutOfStock, 100))),                        // availability
		product(color("Red", size("M", model.InStock, 90))),                            // price
		product(color("Red", size("M", model.InStock, 100), size("L", model.InStock, 100))), // new size
		product(color("Red")),                                                          // removed size
		product(color("Red", size("M", model.InStock, 100)), color("Blue")),            // new color
		product(),                                                                      // removed color
	}
	for i, v := range variants {
		if Equal(base, v) {
			t.Fatalf("variant %d unexpectedly equal", i)
		}
		if Diff(base, v).Empty() {
			t.Fatalf("variant %d: not-equal snapshots must produce a non-empty diff", i)
		}
	}
}

func TestDiff_NewAndRemovedColors(t *testing.T) {
	prev := product(
		color("Red", size("M", model.InStock, 100)),
		color("Green", size("S", model.InStock, 50)),
	)
	next := product(
		color("Red", size("M", model.InStock, 100)),
		color("Blue", size("S", model.InStock, 60)),
	)

	d := Diff(prev, next)
	if len(d.NewColors) != 1 || d.NewColors[0].Name != "Blue" {
		t.Fatalf("unexpected new colors: %+v", d.NewColors)
	}
	if len(d.RemovedColors) != 1 || d.RemovedColors[0].Name != "Green" {
		t.Fatalf("unexpected removed colors: %+v", d.RemovedColors)
	}
	if len(d.ColorDiffs) != 0 {
		t.Fatalf("unchanged shared color must not produce diffs: %+v", d.ColorDiffs)
	}
}

func TestDiff_MissingSizeBecomesImplicitOutOfStock(t *testing.T) {
	prev := product(color("Red", size("M", model.InStock, 100), size("L", model.InStock, 100)))
	next := product(color("Red", size("M", model.InStock, 100)))

	d := Diff(prev, next)
	if len(d.ColorDiffs) != 1 || len(d.ColorDiffs[0].Sizes) != 1 {
		t.Fatalf("expected one size diff, got %+v", d.ColorDiffs)
	}
	sd := d.ColorDiffs[0].Sizes[0]
	if sd.Name != "L" || !sd.Removed {
		t.Fatalf("expected removed size L, got %+v", sd)
	}
	if sd.NewAvailability != model.OutOfStock || sd.NewPrice != 0 {
		t.Fatalf("removed size must read OutOfStock with zero price sentinel, got %+v", sd)
	}
}

func TestDiff_CapturesOldAndNewValues(t *testing.T) {
	ps := size("M", model.OutOfStock, 100)
	ps.OldPrice = 120
	ps.Discount = "17%"
	ns := size("M", model.InStock, 90)
	ns.OldPrice = 100
	ns.Discount = "10%"

	d := Diff(product(color("Red", ps)), product(color("Red", ns)))
	if len(d.ColorDiffs) != 1 || len(d.ColorDiffs[0].Sizes) != 1 {
		t.Fatalf("expected one size diff, got %+v", d.ColorDiffs)
	}
	sd := d.ColorDiffs[0].Sizes[0]
	if sd.OldAvailability != model.OutOfStock || sd.NewAvailability != model.InStock {
		t.Fatalf("availability old/new wrong: %+v", sd)
	}
	if sd.OldPrice != 100 || sd.NewPrice != 90 {
		t.Fatalf("price old/new wrong: %+v", sd)
	}
	if sd.OldListedPrice != 120 || sd.NewListedPrice != 100 {
		t.Fatalf("listed price old/new wrong: %+v", sd)
	}
	if sd.OldDiscount != "17%" || sd.NewDiscount != "10%" {
		t.Fatalf("discount old/new wrong: %+v", sd)
	}
}

func TestDiff_DoesNotMutateInputs(t *testing.T) {
	prev := product(color("Red", size("M", model.InStock, 100)))
	next := product(color("Blue", size("S", model.OutOfStock, 0)))

	_ = Diff(prev, next)

	if prev.Colors[0].Name != "Red" || prev.Colors[0].Sizes[0].Availability != model.InStock {
		t.Fatalf("prev mutated: %+v", prev)
	}
	if next.Colors[0].Name != "Blue" || next.Colors[0].Sizes[0].Availability != model.OutOfStock {
		t.Fatalf("next mutated: %+v", next)
	}
}

func TestDiff_DeterministicOrdering(t *testing.T) {
	prev := product(
		color("Zeta", size("M", model.InStock, 10)),
		color("Alpha", size("M", model.InStock, 20)),
	)
	next := product(
		color("Alpha", size("M", model.OutOfStock, 20)),
		color("Zeta", size("M", model.OutOfStock, 10)),
	)

	for i := 0; i < 10; i++ {
		d := Diff(prev, next)
		if len(d.ColorDiffs) != 2 {
			t.Fatalf("expected 2 color diffs, got %+v", d.ColorDiffs)
		}
		if d.ColorDiffs[0].Name != "Alpha" || d.ColorDiffs[1].Name != "Zeta" {
			t.Fatalf("color diffs not sorted: %+v", d.ColorDiffs)
		}
	}
}
