package snapshot

import (
	"stockhunter/internal/model"
)

// ConfirmThreshold 是补货确认阈值：连续观测到非缺货状态达到该次数
// 才认为补货是真实的，避免源站库存抖动造成的反复告警。
const ConfirmThreshold = 3

// AlertKind 表示一条告警的类别。
type AlertKind string

const (
	AlertRestock     AlertKind = "restock"      // 补货已确认
	AlertPriceChange AlertKind = "price_change" // 价格变化
	AlertNewSize     AlertKind = "new_size"     // 新增尺码
	AlertNewColor    AlertKind = "new_color"    // 新增颜色
)

// Alert 表示一条值得通知用户的差异。
type Alert struct {
	Kind  AlertKind
	Color string
	Size  string

	OldPrice     float64
	NewPrice     float64
	Availability model.Availability
}

// PendingConfirmation 返回快照中是否有尺码正处于补货确认过程中。
//
// 计数器不参与 Equal 比较，但只要有未归零的计数器，轮询周期就不能
// 走"无变化"短路，否则确认永远不会推进。
func PendingConfirmation(p *model.Product) bool {
	for i := range p.Colors {
		for j := range p.Colors[i].Sizes {
			if p.Colors[i].Sizes[j].RestockCount > 0 {
				return true
			}
		}
	}
	return false
}

// Merge 将新快照合并进旧快照，返回合并后的全新快照与告警列表。
//
// 合并规则：
//   - 新颜色整体并入，其所有尺码计数器从 1 开始，产生一条新颜色告警；
//   - 旧快照中消失的颜色保留，所有尺码置为 OutOfStock、计数器归零，
//     不产生告警（商品暂时下架不能丢历史）；
//   - 两边都有的颜色按尺码走补货确认状态机（见 applySize）。
//
// prev 与 next 都不会被修改。
func Merge(prev, next *model.Product) (*model.Product, []Alert) {
	merged := *prev
	merged.Colors = make([]model.Color, 0, len(prev.Colors)+len(next.Colors))
	if next.Name != "" {
		merged.Name = next.Name
	}

	var alerts []Alert
	nextColors := colorsByName(next)
	prevColors := colorsByName(prev)

	for i := range prev.Colors {
		pc := &prev.Colors[i]
		nc, ok := nextColors[pc.Name]
		if !ok {
			merged.Colors = append(merged.Colors, dropColor(pc))
			continue
		}
		mc, colorAlerts := mergeColor(pc, nc)
		merged.Colors = append(merged.Colors, mc)
		alerts = append(alerts, colorAlerts...)
	}

	for i := range next.Colors {
		nc := &next.Colors[i]
		if _, ok := prevColors[nc.Name]; ok {
			continue
		}
		added := copyColor(nc)
		added.ProductID = merged.ID
		for j := range added.Sizes {
			added.Sizes[j].ProductID = merged.ID
			added.Sizes[j].ColorID = added.ID
			added.Sizes[j].RestockCount = 1
		}
		merged.Colors = append(merged.Colors, added)
		alerts = append(alerts, Alert{Kind: AlertNewColor, Color: added.Name})
	}

	return &merged, alerts
}

// dropColor 返回颜色的缺货副本：尺码全部置为 OutOfStock，计数器归零。
func dropColor(c *model.Color) model.Color {
	out := copyColor(c)
	for i := range out.Sizes {
		out.Sizes[i].Availability = model.OutOfStock
		out.Sizes[i].RestockCount = 0
	}
	return out
}

// mergeColor 合并同名颜色：保留旧颜色的标识，吸收新快照的展示字段，
// 逐尺码应用补货确认状态机。
func mergeColor(prev, next *model.Color) (model.Color, []Alert) {
	out := *prev
	out.HexCode = next.HexCode
	out.ImageURL = next.ImageURL
	out.URL = next.URL
	out.Sizes = make([]model.Size, 0, len(prev.Sizes)+len(next.Sizes))

	var alerts []Alert
	nextSizes := sizesByName(next)
	prevSizes := sizesByName(prev)

	for i := range prev.Sizes {
		ps := &prev.Sizes[i]
		ns, ok := nextSizes[ps.Name]
		if !ok {
			// 隐式缺货：尺码从源站列表消失。
			gone := *ps
			gone.Availability = model.OutOfStock
			gone.Price = 0
			gone.RestockCount = 0
			out.Sizes = append(out.Sizes, gone)
			continue
		}
		ms, alert := applySize(ps, ns)
		out.Sizes = append(out.Sizes, ms)
		if alert != nil {
			alert.Color = out.Name
			alerts = append(alerts, *alert)
		}
		if ps.Price != ns.Price {
			alerts = append(alerts, Alert{
				Kind:     AlertPriceChange,
				Color:    out.Name,
				Size:     ps.Name,
				OldPrice: ps.Price,
				NewPrice: ns.Price,
			})
		}
	}

	for i := range next.Sizes {
		ns := &next.Sizes[i]
		if _, ok := prevSizes[ns.Name]; ok {
			continue
		}
		added := *ns
		added.ColorID = out.ID
		added.ProductID = out.ProductID
		added.RestockCount = 1
		out.Sizes = append(out.Sizes, added)
		alerts = append(alerts, Alert{
			Kind:         AlertNewSize,
			Color:        out.Name,
			Size:         added.Name,
			NewPrice:     added.Price,
			Availability: added.Availability,
		})
	}

	return out, alerts
}

// applySize 对一个两边都存在的尺码应用补货确认状态机。
//
// 状态转移：
//   - 新状态为 OutOfStock：计数器归零，不告警；
//   - 刚从 OutOfStock 转为可购买，或确认已在进行中（计数器 > 0）：
//     计数器加一，达到阈值时产生一条补货告警并归零；
//   - 其余情况计数器保持为零（价格告警由调用方独立判断，
//     本来就有货的尺码只是变价不应开启一轮补货确认）。
func applySize(prev, next *model.Size) (model.Size, *Alert) {
	out := *prev
	out.Availability = next.Availability
	out.Price = next.Price
	out.OldPrice = next.OldPrice
	out.Discount = next.Discount

	if next.Availability == model.OutOfStock {
		out.RestockCount = 0
		return out, nil
	}

	confirming := prev.Availability == model.OutOfStock || prev.RestockCount > 0
	if !confirming {
		return out, nil
	}

	count := prev.RestockCount + 1
	if count >= ConfirmThreshold {
		out.RestockCount = 0
		return out, &Alert{
			Kind:         AlertRestock,
			Size:         prev.Name,
			NewPrice:     next.Price,
			Availability: next.Availability,
		}
	}
	out.RestockCount = count
	return out, nil
}
