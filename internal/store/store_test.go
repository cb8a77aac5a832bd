package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stockhunter/internal/model"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleProduct(ownerID string) *model.Product {
	pid := uuid.NewString()
	cid := uuid.NewString()
	return &model.Product{
		ID:      pid,
		Name:    "Runner Jacket",
		URL:     "https://shop.example.com/p/runner-jacket",
		OwnerID: ownerID,
		Colors: []model.Color{
			{
				ID:        cid,
				ProductID: pid,
				Name:      "Red",
				HexCode:   "#ff0000",
				Sizes: []model.Size{
					{ID: uuid.NewString(), ColorID: cid, ProductID: pid, Name: "M", Availability: model.InStock, Price: 49.9},
					{ID: uuid.NewString(), ColorID: cid, ProductID: pid, Name: "L", Availability: model.OutOfStock, Price: 49.9},
				},
			},
		},
	}
}

func TestProductStore_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	s := NewProductStore(db)
	ctx := context.Background()

	p := sampleProduct("owner-1")
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Runner Jacket" || len(got.Colors) != 1 || len(got.Colors[0].Sizes) != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	// 预加载按名称排序。
	if got.Colors[0].Sizes[0].Name != "L" || got.Colors[0].Sizes[1].Name != "M" {
		t.Fatalf("sizes not ordered by name: %+v", got.Colors[0].Sizes)
	}
}

func TestProductStore_UpsertReplacesNestedRows(t *testing.T) {
	db := newTestDB(t)
	s := NewProductStore(db)
	ctx := context.Background()

	p := sampleProduct("owner-1")
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// 第二个版本：尺码 L 消失，价格变化。
	p2 := *p
	p2.Colors = []model.Color{p.Colors[0]}
	p2.Colors[0].Sizes = []model.Size{
		{ID: uuid.NewString(), ColorID: p.Colors[0].ID, ProductID: p.ID, Name: "M", Availability: model.LowStock, Price: 39.9},
	}
	if err := s.Upsert(ctx, &p2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Colors) != 1 || len(got.Colors[0].Sizes) != 1 {
		t.Fatalf("expected nested rows replaced, got %+v", got)
	}
	sz := got.Colors[0].Sizes[0]
	if sz.Name != "M" || sz.Availability != model.LowStock || sz.Price != 39.9 {
		t.Fatalf("unexpected size row: %+v", sz)
	}
}

func TestProductStore_GetMissingReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	s := NewProductStore(db)

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductStore_ListAndCountByOwner(t *testing.T) {
	db := newTestDB(t)
	s := NewProductStore(db)
	ctx := context.Background()

	if err := s.Upsert(ctx, sampleProduct("owner-1")); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := s.Upsert(ctx, sampleProduct("owner-1")); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if err := s.Upsert(ctx, sampleProduct("owner-2")); err != nil {
		t.Fatalf("upsert 3: %v", err)
	}

	list, err := s.List(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 products for owner-1, got %d", len(list))
	}

	n, err := s.CountByOwner(ctx, "owner-2")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 product for owner-2, got %d", n)
	}
}

func TestProductStore_DeleteRemovesNestedRows(t *testing.T) {
	db := newTestDB(t)
	s := NewProductStore(db)
	ctx := context.Background()

	p := sampleProduct("owner-1")
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	var sizes int64
	if err := db.Model(&model.Size{}).Where("product_id = ?", p.ID).Count(&sizes).Error; err != nil {
		t.Fatalf("count sizes: %v", err)
	}
	if sizes != 0 {
		t.Fatalf("expected orphan sizes removed, got %d", sizes)
	}
}

func TestScheduleStore_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduleStore(db)
	ctx := context.Background()

	sched := &model.Schedule{
		ID:             uuid.NewString(),
		ProductID:      uuid.NewString(),
		OwnerID:        "owner-1",
		CronExpression: "*/5 * * * *",
		State:          model.SchedulePlaying,
	}
	if err := s.Create(ctx, sched); err != nil {
		t.Fatalf("create: %v", err)
	}

	playing, err := s.ListPlaying(ctx)
	if err != nil {
		t.Fatalf("list playing: %v", err)
	}
	if len(playing) != 1 || playing[0].ID != sched.ID {
		t.Fatalf("unexpected playing list: %+v", playing)
	}

	if err := s.SetState(ctx, sched.ID, model.ScheduleStopped); err != nil {
		t.Fatalf("set state: %v", err)
	}
	playing, err = s.ListPlaying(ctx)
	if err != nil {
		t.Fatalf("list playing after stop: %v", err)
	}
	if len(playing) != 0 {
		t.Fatalf("stopped schedule still listed: %+v", playing)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchLastRun(ctx, sched.ID, now); err != nil {
		t.Fatalf("touch last run: %v", err)
	}
	got, err := s.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(now) {
		t.Fatalf("last run not recorded: %+v", got.LastRun)
	}
}

func TestScheduleStore_SetStateRejectsUnknownValue(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduleStore(db)

	if err := s.SetState(context.Background(), "whatever", "Dancing"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestScheduleStore_SoftDeleteHidesEntry(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduleStore(db)
	ctx := context.Background()

	sched := &model.Schedule{
		ID:             uuid.NewString(),
		ProductID:      uuid.NewString(),
		CronExpression: "0 0 * * *",
		State:          model.SchedulePlaying,
	}
	if err := s.Create(ctx, sched); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SoftDelete(ctx, sched.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := s.Get(ctx, sched.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after soft delete, got %v", err)
	}
	// 行仍然保留在表里（软删除）。
	var n int64
	if err := db.Unscoped().Model(&model.Schedule{}).Where("id = ?", sched.ID).Count(&n).Error; err != nil {
		t.Fatalf("unscoped count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected soft-deleted row to remain, got %d", n)
	}

	if err := s.SoftDelete(ctx, sched.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
