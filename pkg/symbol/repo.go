// 文件: pkg/symbol/repo.go
// 交易对规格 MySQL 存储
//
// 【设计】
// - 引擎内存态是真相，MySQL 是管理面的持久化来源
// - 启动时从这里加载规格，运行中的变更先写库再下发命令

package symbol

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Repository 交易对规格存储接口
type Repository interface {
	Create(ctx context.Context, spec *Spec) error
	GetBySymbol(ctx context.Context, symbol string) (*Spec, error)
	Update(ctx context.Context, spec *Spec) error
	UpdateStatus(ctx context.Context, symbol string, from, to Status) error
	List(ctx context.Context) ([]*Spec, error)
	ListByStatus(ctx context.Context, status Status) ([]*Spec, error)
}

// 确保实现了接口
var _ Repository = (*MySQLRepository)(nil)

// MySQLRepository MySQL 实现
type MySQLRepository struct {
	db *gorm.DB
}

// NewMySQLRepository 创建 MySQL 存储
func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// Create 创建交易对
func (r *MySQLRepository) Create(ctx context.Context, spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(spec).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrSymbolExists
		}
		return err
	}
	return nil
}

// GetBySymbol 根据 symbol 查询
func (r *MySQLRepository) GetBySymbol(ctx context.Context, symbol string) (*Spec, error) {
	var spec Spec
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&spec).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSymbolNotFound
		}
		return nil, err
	}
	return &spec, nil
}

// Update 更新交易对
func (r *MySQLRepository) Update(ctx context.Context, spec *Spec) error {
	spec.UpdatedAt = time.Now().UnixMilli()

	result := r.db.WithContext(ctx).
		Model(&Spec{}).
		Where("symbol = ?", spec.Symbol).
		Updates(spec)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// UpdateStatus 状态转移（带前置状态校验，CAS 语义）
func (r *MySQLRepository) UpdateStatus(ctx context.Context, symbol string, from, to Status) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	now := time.Now().UnixMilli()

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	// 首次上线时记录上线时间
	if to == StatusTrading {
		updates["listed_at"] = gorm.Expr("CASE WHEN listed_at = 0 THEN ? ELSE listed_at END", now)
	}

	result := r.db.WithContext(ctx).
		Model(&Spec{}).
		Where("symbol = ? AND status = ?", symbol, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// List 列出未下线的交易对
func (r *MySQLRepository) List(ctx context.Context) ([]*Spec, error) {
	var specs []*Spec
	err := r.db.WithContext(ctx).
		Where("status != ?", StatusDelisted).
		Find(&specs).Error
	return specs, err
}

// ListByStatus 按状态查询
func (r *MySQLRepository) ListByStatus(ctx context.Context, status Status) ([]*Spec, error) {
	var specs []*Spec
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Find(&specs).Error
	return specs, err
}

// isDuplicateKeyError 判断是否为重复键错误
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// MySQL error code 1062 = Duplicate entry
	errStr := err.Error()
	return strings.Contains(errStr, "Duplicate entry") || strings.Contains(errStr, "1062")
}
