package snapshot

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"stockhunter/internal/model"
	"stockhunter/internal/scraper"
)

// FromScraped 把抓取文档物化为一个新的商品快照。
//
// 快照继承 base 的身份字段（商品 ID、归属、调度、URL）；颜色和尺码
// 生成全新的 ID，跨抓取的身份延续交给 Merge 按名称匹配完成。
// 同名颜色/尺码只保留第一次出现的（名称是自然键，必须唯一）。
func FromScraped(base *model.Product, res *scraper.Result, now time.Time) *model.Product {
	p := &model.Product{
		ID:         base.ID,
		CreatedAt:  base.CreatedAt,
		Name:       strings.TrimSpace(res.Name),
		URL:        base.URL,
		OwnerID:    base.OwnerID,
		ScheduleID: base.ScheduleID,
	}
	if p.Name == "" {
		p.Name = base.Name
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	seenColors := make(map[string]struct{}, len(res.Colors))
	for i := range res.Colors {
		rc := &res.Colors[i]
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			continue
		}
		if _, dup := seenColors[name]; dup {
			continue
		}
		seenColors[name] = struct{}{}

		color := model.Color{
			ID:        uuid.NewString(),
			CreatedAt: now,
			ProductID: p.ID,
			Name:      name,
			HexCode:   rc.HexCode,
			ImageURL:  rc.Image,
			URL:       rc.URL,
		}

		seenSizes := make(map[string]struct{}, len(rc.Sizes))
		for j := range rc.Sizes {
			rs := &rc.Sizes[j]
			sizeName := strings.TrimSpace(rs.Name)
			if sizeName == "" {
				continue
			}
			if _, dup := seenSizes[sizeName]; dup {
				continue
			}
			seenSizes[sizeName] = struct{}{}

			color.Sizes = append(color.Sizes, model.Size{
				ID:           uuid.NewString(),
				CreatedAt:    now,
				ColorID:      color.ID,
				ProductID:    p.ID,
				Name:         sizeName,
				Availability: model.NormalizeAvailability(rs.Availability),
				Price:        rs.Price,
				OldPrice:     rs.OldPrice,
				Discount:     rs.DiscountPercentage,
			})
		}
		p.Colors = append(p.Colors, color)
	}
	return p
}
