// 文件: pkg/history/mysql_repo.go
package history

import (
	"context"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MySQLFillRepository struct {
	db *gorm.DB
}

func NewMySQLFillRepository(db *gorm.DB) *MySQLFillRepository {
	return &MySQLFillRepository{db: db}
}

// OpenMySQL 打开连接并迁移成交表
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Fill{}); err != nil {
		return nil, err
	}
	return db, nil
}

func (r *MySQLFillRepository) Save(ctx context.Context, fills []*Fill) error {
	if len(fills) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(fills, 200).Error
}

func (r *MySQLFillRepository) GetByTradeID(ctx context.Context, symbol string, tradeID int64) (*Fill, error) {
	var fill Fill
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND trade_id = ?", symbol, tradeID).
		First(&fill).Error
	if err != nil {
		return nil, err
	}
	return &fill, nil
}

func (r *MySQLFillRepository) GetByUser(ctx context.Context, userID int64, symbol string, limit int) ([]*Fill, error) {
	var fills []*Fill
	query := r.db.WithContext(ctx).
		Where("taker_user_id = ? OR maker_user_id = ?", userID, userID)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	err := query.Order("timestamp DESC").Limit(limit).Find(&fills).Error
	return fills, err
}

func (r *MySQLFillRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*Fill, error) {
	var fills []*Fill
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp DESC").
		Limit(limit).
		Find(&fills).Error
	return fills, err
}
