package store

import (
	"context"
	"errors"
	"fmt"

	"stockhunter/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductStore 持久化商品快照。
//
// 整个快照（商品 + 颜色 + 尺码）作为一个聚合整体读写：Upsert 在一个
// 事务里替换全部嵌套行，避免出现只更新了一半的快照。
type ProductStore struct {
	db *gorm.DB
}

func NewProductStore(db *gorm.DB) *ProductStore {
	return &ProductStore{db: db}
}

// Get 按 ID 读取完整快照，颜色与尺码按名称排序保证遍历稳定。
func (s *ProductStore) Get(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).
		Preload("Colors", func(db *gorm.DB) *gorm.DB { return db.Order("colors.name") }).
		Preload("Colors.Sizes", func(db *gorm.DB) *gorm.DB { return db.Order("sizes.name") }).
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// GetByURL 按用户和商品链接查找快照，用于登记时的查重。
func (s *ProductStore) GetByURL(ctx context.Context, ownerID, url string) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).
		Preload("Colors", func(db *gorm.DB) *gorm.DB { return db.Order("colors.name") }).
		Preload("Colors.Sizes", func(db *gorm.DB) *gorm.DB { return db.Order("sizes.name") }).
		Where("owner_id = ? AND url = ?", ownerID, url).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product by url: %w", err)
	}
	return &p, nil
}

// List 返回某个用户的全部商品快照。
func (s *ProductStore) List(ctx context.Context, ownerID string) ([]model.Product, error) {
	var products []model.Product
	err := s.db.WithContext(ctx).
		Preload("Colors", func(db *gorm.DB) *gorm.DB { return db.Order("colors.name") }).
		Preload("Colors.Sizes", func(db *gorm.DB) *gorm.DB { return db.Order("sizes.name") }).
		Where("owner_id = ?", ownerID).
		Order("created_at").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// CountByOwner 返回某个用户当前监控的商品数。
func (s *ProductStore) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Product{}).Where("owner_id = ?", ownerID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// Upsert 原子替换一个商品快照：商品行走 upsert，嵌套的颜色和尺码
// 先整体删除再重建。快照不大（一个商品几十行），整体替换比逐行
// diff 更新简单且不会留下孤儿行。
func (s *ProductStore) Upsert(ctx context.Context, p *model.Product) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := *p
		row.Colors = nil
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "url", "owner_id", "schedule_id", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}

		if err := tx.Where("product_id = ?", p.ID).Delete(&model.Size{}).Error; err != nil {
			return fmt.Errorf("clear sizes: %w", err)
		}
		if err := tx.Where("product_id = ?", p.ID).Delete(&model.Color{}).Error; err != nil {
			return fmt.Errorf("clear colors: %w", err)
		}

		for i := range p.Colors {
			c := p.Colors[i]
			sizes := c.Sizes
			c.Sizes = nil
			c.ProductID = p.ID
			if err := tx.Create(&c).Error; err != nil {
				return fmt.Errorf("create color %q: %w", c.Name, err)
			}
			for j := range sizes {
				sz := sizes[j]
				sz.ColorID = c.ID
				sz.ProductID = p.ID
				if err := tx.Create(&sz).Error; err != nil {
					return fmt.Errorf("create size %q: %w", sz.Name, err)
				}
			}
		}
		return nil
	})
}

// Delete 删除商品快照及其全部嵌套行。
func (s *ProductStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", id).Delete(&model.Size{}).Error; err != nil {
			return fmt.Errorf("delete sizes: %w", err)
		}
		if err := tx.Where("product_id = ?", id).Delete(&model.Color{}).Error; err != nil {
			return fmt.Errorf("delete colors: %w", err)
		}
		if err := tx.Delete(&model.Product{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return nil
	})
}
