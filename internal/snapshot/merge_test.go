package snapshot

import (
	"testing"

	"stockhunter/internal/model"
)

func alertsOfKind(alerts []Alert, kind AlertKind) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// 连续应用一串观测值（针对单颜色单尺码），返回最终快照与全部告警。
func runCycles(t *testing.T, start *model.Product, observations []model.Availability) (*model.Product, []Alert) {
	t.Helper()
	current := start
	var all []Alert
	for _, av := range observations {
		next := product(color("Red", size("M", av, 100)))
		merged, alerts := Merge(current, next)
		all = append(all, alerts...)
		current = merged
	}
	return current, all
}

func TestMerge_SixCycleFlappingConfirmsOnce(t *testing.T) {
	// OOS → IS → OOS → IS → IS → IS：恰好一次补货确认。
	start := product(color("Red", size("M", model.OutOfStock, 100)))
	final, alerts := runCycles(t, start, []model.Availability{
		model.InStock,
		model.OutOfStock,
		model.InStock,
		model.InStock,
		model.InStock,
	})

	restocks := alertsOfKind(alerts, AlertRestock)
	if len(restocks) != 1 {
		t.Fatalf("expected exactly one restock alert, got %d", len(restocks))
	}
	if final.Colors[0].Sizes[0].RestockCount != 0 {
		t.Fatalf("counter must reset after confirmation, got %d", final.Colors[0].Sizes[0].RestockCount)
	}
}

func TestMerge_FlapBelowThresholdNeverAlerts(t *testing.T) {
	// OOS → IS → OOS：没到阈值就回落，零告警且计数器归零。
	start := product(color("Red", size("M", model.OutOfStock, 100)))
	final, alerts := runCycles(t, start, []model.Availability{
		model.InStock,
		model.OutOfStock,
	})

	if len(alertsOfKind(alerts, AlertRestock)) != 0 {
		t.Fatalf("expected no restock alerts, got %+v", alerts)
	}
	if final.Colors[0].Sizes[0].RestockCount != 0 {
		t.Fatalf("counter must be 0 after falling back to OutOfStock, got %d", final.Colors[0].Sizes[0].RestockCount)
	}
}

func TestMerge_EndToEndRedMExample(t *testing.T) {
	// 旧快照 Red/M：price=100、OutOfStock、计数器 2；
	// 新快照 Red/M：price=100、InStock。
	ps := size("M", model.OutOfStock, 100)
	ps.RestockCount = 2
	prev := product(color("Red", ps))
	next := product(color("Red", size("M", model.InStock, 100)))

	d := Diff(prev, next)
	if len(d.ColorDiffs) != 1 || len(d.ColorDiffs[0].Sizes) != 1 {
		t.Fatalf("expected one size difference, got %+v", d)
	}
	sd := d.ColorDiffs[0].Sizes[0]
	if sd.OldAvailability != model.OutOfStock || sd.NewAvailability != model.InStock {
		t.Fatalf("unexpected size difference: %+v", sd)
	}

	merged, alerts := Merge(prev, next)
	restocks := alertsOfKind(alerts, AlertRestock)
	if len(restocks) != 1 {
		t.Fatalf("expected one restock alert, got %+v", alerts)
	}
	if restocks[0].Color != "Red" || restocks[0].Size != "M" {
		t.Fatalf("restock alert misattributed: %+v", restocks[0])
	}
	if merged.Colors[0].Sizes[0].RestockCount != 0 {
		t.Fatalf("counter must reset to 0, got %d", merged.Colors[0].Sizes[0].RestockCount)
	}
	if merged.Colors[0].Sizes[0].Availability != model.InStock {
		t.Fatalf("availability not applied: %v", merged.Colors[0].Sizes[0].Availability)
	}
}

func TestMerge_RemovedColorKeptAsOutOfStock(t *testing.T) {
	ps := size("M", model.InStock, 100)
	ps.RestockCount = 2
	prev := product(color("Red", ps), color("Blue", size("S", model.InStock, 80)))
	next := product(color("Blue", size("S", model.InStock, 80)))

	merged, alerts := Merge(prev, next)
	if len(alerts) != 0 {
		t.Fatalf("dropped color must not alert, got %+v", alerts)
	}
	if len(merged.Colors) != 2 {
		t.Fatalf("removed color must remain in merged snapshot, got %+v", merged.Colors)
	}

	var red *model.Color
	for i := range merged.Colors {
		if merged.Colors[i].Name == "Red" {
			red = &merged.Colors[i]
		}
	}
	if red == nil {
		t.Fatalf("color Red missing from merged snapshot")
	}
	if red.Sizes[0].Availability != model.OutOfStock {
		t.Fatalf("sizes of removed color must go OutOfStock, got %v", red.Sizes[0].Availability)
	}
	if red.Sizes[0].RestockCount != 0 {
		t.Fatalf("counters of removed color must reset, got %d", red.Sizes[0].RestockCount)
	}
}

func TestMerge_NewColorStartsCountersAtOne(t *testing.T) {
	prev := product(color("Red", size("M", model.InStock, 100)))
	next := product(
		color("Red", size("M", model.InStock, 100)),
		color("Blue", size("S", model.InStock, 80)),
	)

	merged, alerts := Merge(prev, next)
	newColor := alertsOfKind(alerts, AlertNewColor)
	if len(newColor) != 1 || newColor[0].Color != "Blue" {
		t.Fatalf("expected one new-color alert for Blue, got %+v", alerts)
	}
	if len(alertsOfKind(alerts, AlertRestock)) != 0 {
		t.Fatalf("new color must not go through the restock path")
	}

	for _, c := range merged.Colors {
		if c.Name != "Blue" {
			continue
		}
		if c.Sizes[0].RestockCount != 1 {
			t.Fatalf("new color sizes must start at count 1, got %d", c.Sizes[0].RestockCount)
		}
	}
}

func TestMerge_NewSizeReportedSeparately(t *testing.T) {
	prev := product(color("Red", size("M", model.InStock, 100)))
	next := product(color("Red", size("M", model.InStock, 100), size("L", model.InStock, 100)))

	merged, alerts := Merge(prev, next)
	newSize := alertsOfKind(alerts, AlertNewSize)
	if len(newSize) != 1 || newSize[0].Size != "L" || newSize[0].Color != "Red" {
		t.Fatalf("expected one new-size alert for Red/L, got %+v", alerts)
	}
	if len(alertsOfKind(alerts, AlertRestock)) != 0 {
		t.Fatalf("new size must not go through the restock path")
	}

	for _, sz := range merged.Colors[0].Sizes {
		if sz.Name == "L" && sz.RestockCount != 1 {
			t.Fatalf("new size must start at count 1, got %d", sz.RestockCount)
		}
	}
}

func TestMerge_PriceChangeAlertsImmediatelyAndIndependently(t *testing.T) {
	// 正在确认中的尺码变价：价格告警立即发出，计数器照常推进。
	ps := size("M", model.OutOfStock, 100)
	ps.RestockCount = 1
	prev := product(color("Red", ps))
	next := product(color("Red", size("M", model.InStock, 90)))

	merged, alerts := Merge(prev, next)
	prices := alertsOfKind(alerts, AlertPriceChange)
	if len(prices) != 1 || prices[0].OldPrice != 100 || prices[0].NewPrice != 90 {
		t.Fatalf("expected immediate price alert 100→90, got %+v", alerts)
	}
	if len(alertsOfKind(alerts, AlertRestock)) != 0 {
		t.Fatalf("counter at 2 must not alert yet, got %+v", alerts)
	}
	if merged.Colors[0].Sizes[0].RestockCount != 2 {
		t.Fatalf("counter must advance to 2, got %d", merged.Colors[0].Sizes[0].RestockCount)
	}
}

func TestMerge_PriceChangeOnStableInStockSizeDoesNotStartConfirmation(t *testing.T) {
	prev := product(color("Red", size("M", model.InStock, 100)))
	next := product(color("Red", size("M", model.InStock, 90)))

	merged, alerts := Merge(prev, next)
	if len(alertsOfKind(alerts, AlertPriceChange)) != 1 {
		t.Fatalf("expected price alert, got %+v", alerts)
	}
	if merged.Colors[0].Sizes[0].RestockCount != 0 {
		t.Fatalf("in-stock size with price change must not enter confirmation, got %d", merged.Colors[0].Sizes[0].RestockCount)
	}
}

func TestMerge_MissingSizeResetsCounterWithoutAlert(t *testing.T) {
	ps := size("M", model.InStock, 100)
	ps.RestockCount = 2
	prev := product(color("Red", ps, size("L", model.InStock, 100)))
	next := product(color("Red", size("L", model.InStock, 100)))

	merged, alerts := Merge(prev, next)
	if len(alerts) != 0 {
		t.Fatalf("implicit out-of-stock must not alert, got %+v", alerts)
	}
	for _, sz := range merged.Colors[0].Sizes {
		if sz.Name != "M" {
			continue
		}
		if sz.Availability != model.OutOfStock || sz.Price != 0 || sz.RestockCount != 0 {
			t.Fatalf("missing size not normalized: %+v", sz)
		}
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	ps := size("M", model.OutOfStock, 100)
	ps.RestockCount = 2
	prev := product(color("Red", ps))
	next := product(color("Red", size("M", model.InStock, 100)))

	_, _ = Merge(prev, next)

	if prev.Colors[0].Sizes[0].RestockCount != 2 || prev.Colors[0].Sizes[0].Availability != model.OutOfStock {
		t.Fatalf("prev mutated: %+v", prev.Colors[0].Sizes[0])
	}
	if next.Colors[0].Sizes[0].Availability != model.InStock {
		t.Fatalf("next mutated: %+v", next.Colors[0].Sizes[0])
	}
}

func TestMerge_KeepsPrevIdentitiesForMatchedNames(t *testing.T) {
	prev := product(color("Red", size("M", model.InStock, 100)))
	next := product(color("Red", size("M", model.InStock, 100)))
	next.Colors[0].ID = "different-color-id"
	next.Colors[0].Sizes[0].ID = "different-size-id"

	merged, _ := Merge(prev, next)
	if merged.Colors[0].ID != "c-Red" {
		t.Fatalf("matched color must keep previous id, got %q", merged.Colors[0].ID)
	}
	if merged.Colors[0].Sizes[0].ID != "sz-M" {
		t.Fatalf("matched size must keep previous id, got %q", merged.Colors[0].Sizes[0].ID)
	}
}

func TestPendingConfirmation(t *testing.T) {
	p := product(color("Red", size("M", model.InStock, 100)))
	if PendingConfirmation(p) {
		t.Fatalf("zero counters must not be pending")
	}
	p.Colors[0].Sizes[0].RestockCount = 1
	if !PendingConfirmation(p) {
		t.Fatalf("non-zero counter must be pending")
	}
}
