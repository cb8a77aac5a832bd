package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Availability 表示某个尺码的库存状态。
type Availability string

const (
	InStock    Availability = "InStock"    // 有货
	LowStock   Availability = "LowStock"   // 库存紧张
	OutOfStock Availability = "OutOfStock" // 无货
)

// Known 返回库存状态是否为已知的枚举值。
func (a Availability) Known() bool {
	switch a {
	case InStock, LowStock, OutOfStock:
		return true
	}
	return false
}

// Purchasable 返回该状态下尺码是否可购买（InStock / LowStock）。
func (a Availability) Purchasable() bool {
	return a == InStock || a == LowStock
}

// NormalizeAvailability 将抓取服务返回的原始库存字符串归一化为枚举值。
//
// 抓取源的写法并不稳定（"in_stock" / "inStock" / "low_on_stock" 等），
// 无法识别的值一律按 OutOfStock 处理，而不是报错。
func NormalizeAvailability(raw string) Availability {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "instock", "in_stock", "available":
		return InStock
	case "lowstock", "low_stock", "low_on_stock":
		return LowStock
	}
	return OutOfStock
}

// Product 表示一次观测得到的商品快照。
//
// 同一个逻辑商品在多次抓取之间 ID 保持稳定；颜色与尺码以名称作为
// 跨抓取的自然键（生成的 ID 只在名称匹配时才延续）。
type Product struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"` // 商品唯一标识
	CreatedAt time.Time // 首次观测时间
	UpdatedAt time.Time // 更新时间

	Name       string `gorm:"type:varchar(191)"`           // 商品名
	URL        string `gorm:"type:varchar(1000);not null"` // 商品页面链接
	OwnerID    string `gorm:"type:varchar(36);index"`      // 所属用户
	ScheduleID string `gorm:"type:varchar(36);index"`      // 关联的调度条目

	Colors []Color `gorm:"foreignKey:ProductID"` // 颜色列表（名称在商品内唯一）
}

// Color 表示商品快照中的一个颜色。
type Color struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"` // 颜色唯一标识
	CreatedAt time.Time // 首次观测时间

	ProductID string `gorm:"type:varchar(36);index;not null"` // 所属商品
	Name      string `gorm:"type:varchar(191);not null"`      // 颜色名（商品内唯一）
	HexCode   string `gorm:"type:varchar(16)"`                // 颜色色值
	ImageURL  string `gorm:"type:varchar(1000)"`              // 颜色主图
	URL       string `gorm:"type:varchar(1000)"`              // 颜色页面链接

	Sizes []Size `gorm:"foreignKey:ColorID"` // 尺码列表（名称在颜色内唯一）
}

// Size 表示商品某颜色下的一个尺码。
//
// RestockCount 是补货确认计数器：只要观测到 OutOfStock 就归零，
// 连续非缺货观测累计到阈值后触发一次补货通知并归零。
type Size struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"` // 尺码唯一标识
	CreatedAt time.Time // 首次观测时间

	ColorID   string `gorm:"type:varchar(36);index;not null"` // 所属颜色
	ProductID string `gorm:"type:varchar(36);index;not null"` // 所属商品（冗余，便于批量删除）
	Name      string `gorm:"type:varchar(64);not null"`       // 尺码名（颜色内唯一）

	Availability Availability `gorm:"type:varchar(16);not null"` // 库存状态
	Price        float64      // 当前价格
	OldPrice     float64      // 上一个标价
	Discount     string       `gorm:"type:varchar(16)"` // 折扣百分比（源站给的字符串，原样保存）

	RestockCount int `gorm:"default:0"` // 补货确认计数（>= 0）
}

// ScheduleState 表示调度条目的运行状态。
type ScheduleState string

const (
	SchedulePlaying ScheduleState = "Playing" // 正在调度
	ScheduleStopped ScheduleState = "Stopped" // 已停止
	ScheduleError   ScheduleState = "Error"   // 出错暂停
)

// Valid 返回状态是否为已知枚举值。
func (s ScheduleState) Valid() bool {
	switch s {
	case SchedulePlaying, ScheduleStopped, ScheduleError:
		return true
	}
	return false
}

// Schedule 表示一个商品的轮询调度条目。
//
// 条目由用户注册商品监控时创建；编排器更新 LastRun，外部状态流转
// 负责 Stopped / Error；删除使用软删除以保留审计历史。
type Schedule struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"` // 调度条目唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	ProductID      string        `gorm:"type:varchar(36);index;not null"` // 关联商品
	OwnerID        string        `gorm:"type:varchar(36);index"`          // 所属用户
	CronExpression string        `gorm:"type:varchar(64);not null"`       // cron 表达式（五段式）
	State          ScheduleState `gorm:"type:varchar(16);default:Playing"`
	LastRun        *time.Time    // 上次执行时间

	DeletedAt gorm.DeletedAt `gorm:"index"` // 软删除标记
}
