// Package mysql 投资机会的 GORM 仓储实现（MySQL/PostgreSQL/SQLite 通用）
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/investportal/internal/validation/domain"
	"github.com/wyfcoding/investportal/pkg/db"
)

type opportunityRepository struct {
	db *gorm.DB
}

// NewOpportunityRepository 创建投资机会仓储
func NewOpportunityRepository(gdb *gorm.DB) domain.OpportunityRepository {
	return &opportunityRepository{db: gdb}
}

// AutoMigrate 建表
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&OpportunityModel{}, &MilestoneModel{})
}

// Save 新建（Version 为 0）或按版本号更新，里程碑整体替换
func (r *opportunityRepository) Save(ctx context.Context, o *domain.Opportunity) error {
	model, err := toOpportunityModel(o)
	if err != nil {
		return fmt.Errorf("failed to encode opportunity: %w", err)
	}
	milestones, err := toMilestoneModels(o.OpportunityID, o.Milestones)
	if err != nil {
		return fmt.Errorf("failed to encode milestones: %w", err)
	}

	next := o.Version + 1
	return db.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if o.Version == 0 {
			model.Version = next
			if err := tx.Create(model).Error; err != nil {
				return err
			}
		} else {
			result := tx.Model(&OpportunityModel{}).
				Where("opportunity_id = ? AND version = ?", o.OpportunityID, o.Version).
				Updates(map[string]any{
					"type":            model.Type,
					"status":          model.Status,
					"fields":          model.Fields,
					"risk_level":      model.RiskLevel,
					"last_validation": model.LastValidation,
					"version":         next,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s at version %d", domain.ErrVersionConflict, o.OpportunityID, o.Version)
			}
			if err := tx.Unscoped().Where("opportunity_id = ?", o.OpportunityID).Delete(&MilestoneModel{}).Error; err != nil {
				return err
			}
		}

		if len(milestones) > 0 {
			if err := tx.Create(&milestones).Error; err != nil {
				return err
			}
		}

		o.Version = next
		o.UpdatedAt = time.Now()
		if o.CreatedAt.IsZero() {
			o.CreatedAt = o.UpdatedAt
		}
		return nil
	})
}

// Get 获取投资机会及其里程碑
func (r *opportunityRepository) Get(ctx context.Context, opportunityID string) (*domain.Opportunity, error) {
	conn := db.Conn(ctx, r.db)

	var model OpportunityModel
	if err := conn.Where("opportunity_id = ?", opportunityID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrOpportunityNotFound, opportunityID)
		}
		return nil, err
	}

	var milestones []*MilestoneModel
	if err := conn.Where("opportunity_id = ?", opportunityID).Order("position ASC").Find(&milestones).Error; err != nil {
		return nil, err
	}
	return toOpportunity(&model, milestones)
}
