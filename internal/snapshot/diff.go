// Package snapshot 实现商品快照的比较与合并。
//
// 快照是值语义的：Diff 与 Equal 是纯函数，不做任何 I/O、不修改输入；
// Merge 返回一个全新的快照而不是原地改写，避免新旧状态互相别名。
package snapshot

import (
	"sort"

	"stockhunter/internal/model"
)

// SizeDiff 记录一个尺码在两次快照之间所有被跟踪字段的新旧值。
type SizeDiff struct {
	Name string // 尺码名（自然键）

	OldAvailability model.Availability
	NewAvailability model.Availability
	OldPrice        float64
	NewPrice        float64
	OldListedPrice  float64
	NewListedPrice  float64
	OldDiscount     string
	NewDiscount     string

	Added   bool // 尺码只出现在新快照中
	Removed bool // 尺码只出现在旧快照中（隐式转为 OutOfStock、价格置零）
}

// ColorDiff 汇总同名颜色下发生变化的尺码。
type ColorDiff struct {
	Name  string
	Sizes []SizeDiff
}

// ProductDiff 是两次快照的结构化比较结果。
type ProductDiff struct {
	NewColors     []model.Color // 只出现在新快照中的颜色
	RemovedColors []model.Color // 只出现在旧快照中的颜色（不删除，由调用方置为缺货）
	ColorDiffs    []ColorDiff   // 两边都有的颜色中发生变化的尺码
}

// Empty 返回比较结果是否没有任何差异。
func (d ProductDiff) Empty() bool {
	return len(d.NewColors) == 0 && len(d.RemovedColors) == 0 && len(d.ColorDiffs) == 0
}

// Equal 判断两个快照在所有被跟踪字段上是否完全一致。
//
// 颜色集合（按名称）、每个颜色的尺码集合（按名称）以及每个尺码的
// availability / price / oldPrice / discount 全部相同时返回 true。
// RestockCount 等内部状态不参与比较。用作完整 Diff 前的快速短路。
func Equal(prev, next *model.Product) bool {
	if len(prev.Colors) != len(next.Colors) {
		return false
	}
	nextColors := colorsByName(next)
	for i := range prev.Colors {
		pc := &prev.Colors[i]
		nc, ok := nextColors[pc.Name]
		if !ok {
			return false
		}
		if len(pc.Sizes) != len(nc.Sizes) {
			return false
		}
		nextSizes := sizesByName(nc)
		for j := range pc.Sizes {
			ps := &pc.Sizes[j]
			ns, ok := nextSizes[ps.Name]
			if !ok {
				return false
			}
			if ps.Availability != ns.Availability ||
				ps.Price != ns.Price ||
				ps.OldPrice != ns.OldPrice ||
				ps.Discount != ns.Discount {
				return false
			}
		}
	}
	return true
}

// Diff 比较两个快照，产出结构化差异。
//
// 结果顺序是确定的：新颜色按新快照顺序，移除颜色按旧快照顺序，
// 尺码差异先按新快照顺序、再补上被移除的尺码（按旧快照顺序）。
func Diff(prev, next *model.Product) ProductDiff {
	var out ProductDiff

	prevColors := colorsByName(prev)
	nextColors := colorsByName(next)

	for i := range next.Colors {
		if _, ok := prevColors[next.Colors[i].Name]; !ok {
			out.NewColors = append(out.NewColors, copyColor(&next.Colors[i]))
		}
	}
	for i := range prev.Colors {
		if _, ok := nextColors[prev.Colors[i].Name]; !ok {
			out.RemovedColors = append(out.RemovedColors, copyColor(&prev.Colors[i]))
		}
	}

	for i := range prev.Colors {
		pc := &prev.Colors[i]
		nc, ok := nextColors[pc.Name]
		if !ok {
			continue
		}
		cd := diffColor(pc, nc)
		if len(cd.Sizes) > 0 {
			out.ColorDiffs = append(out.ColorDiffs, cd)
		}
	}
	sort.SliceStable(out.ColorDiffs, func(i, j int) bool {
		return out.ColorDiffs[i].Name < out.ColorDiffs[j].Name
	})
	return out
}

// diffColor 比较同名颜色下的尺码集合。
func diffColor(prev, next *model.Color) ColorDiff {
	cd := ColorDiff{Name: prev.Name}
	prevSizes := sizesByName(prev)

	for i := range next.Sizes {
		ns := &next.Sizes[i]
		ps, ok := prevSizes[ns.Name]
		if !ok {
			cd.Sizes = append(cd.Sizes, SizeDiff{
				Name:            ns.Name,
				NewAvailability: ns.Availability,
				NewPrice:        ns.Price,
				NewListedPrice:  ns.OldPrice,
				NewDiscount:     ns.Discount,
				Added:           true,
			})
			continue
		}
		if ps.Availability == ns.Availability &&
			ps.Price == ns.Price &&
			ps.OldPrice == ns.OldPrice &&
			ps.Discount == ns.Discount {
			continue
		}
		cd.Sizes = append(cd.Sizes, SizeDiff{
			Name:            ns.Name,
			OldAvailability: ps.Availability,
			NewAvailability: ns.Availability,
			OldPrice:        ps.Price,
			NewPrice:        ns.Price,
			OldListedPrice:  ps.OldPrice,
			NewListedPrice:  ns.OldPrice,
			OldDiscount:     ps.Discount,
			NewDiscount:     ns.Discount,
		})
	}

	nextSizes := sizesByName(next)
	for i := range prev.Sizes {
		ps := &prev.Sizes[i]
		if _, ok := nextSizes[ps.Name]; ok {
			continue
		}
		// 尺码从列表里消失：视为转入缺货、价格哨兵值 0，而不是数据错误。
		cd.Sizes = append(cd.Sizes, SizeDiff{
			Name:            ps.Name,
			OldAvailability: ps.Availability,
			NewAvailability: model.OutOfStock,
			OldPrice:        ps.Price,
			NewPrice:        0,
			OldListedPrice:  ps.OldPrice,
			OldDiscount:     ps.Discount,
			Removed:         true,
		})
	}
	return cd
}

func colorsByName(p *model.Product) map[string]*model.Color {
	m := make(map[string]*model.Color, len(p.Colors))
	for i := range p.Colors {
		m[p.Colors[i].Name] = &p.Colors[i]
	}
	return m
}

func sizesByName(c *model.Color) map[string]*model.Size {
	m := make(map[string]*model.Size, len(c.Sizes))
	for i := range c.Sizes {
		m[c.Sizes[i].Name] = &c.Sizes[i]
	}
	return m
}

func copyColor(c *model.Color) model.Color {
	out := *c
	out.Sizes = make([]model.Size, len(c.Sizes))
	copy(out.Sizes, c.Sizes)
	return out
}
