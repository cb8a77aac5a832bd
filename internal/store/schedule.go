package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockhunter/internal/model"

	"gorm.io/gorm"
)

// ScheduleStore 持久化调度条目。
type ScheduleStore struct {
	db *gorm.DB
}

func NewScheduleStore(db *gorm.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Create 新建调度条目。
func (s *ScheduleStore) Create(ctx context.Context, sched *model.Schedule) error {
	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// Get 按 ID 读取调度条目（软删除的条目视为不存在）。
func (s *ScheduleStore) Get(ctx context.Context, id string) (*model.Schedule, error) {
	var sched model.Schedule
	err := s.db.WithContext(ctx).First(&sched, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &sched, nil
}

// ListPlaying 返回所有处于 Playing 状态的调度条目，编排器启动时
// 据此重建内存中的 cron 注册表。
func (s *ScheduleStore) ListPlaying(ctx context.Context) ([]model.Schedule, error) {
	var scheds []model.Schedule
	err := s.db.WithContext(ctx).
		Where("state = ?", model.SchedulePlaying).
		Order("created_at").
		Find(&scheds).Error
	if err != nil {
		return nil, fmt.Errorf("list playing schedules: %w", err)
	}
	return scheds, nil
}

// SetState 更新调度条目状态。条目不存在时返回 ErrNotFound。
func (s *ScheduleStore) SetState(ctx context.Context, id string, state model.ScheduleState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid schedule state %q", state)
	}
	res := s.db.WithContext(ctx).Model(&model.Schedule{}).Where("id = ?", id).Update("state", state)
	if res.Error != nil {
		return fmt.Errorf("set schedule state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastRun 记录一次调度执行时间。
func (s *ScheduleStore) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Schedule{}).Where("id = ?", id).Update("last_run", at)
	if res.Error != nil {
		return fmt.Errorf("touch last run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete 软删除调度条目，历史记录保留。
func (s *ScheduleStore) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Schedule{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
