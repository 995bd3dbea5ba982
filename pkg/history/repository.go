// 文件: pkg/history/repository.go
package history

import "context"

type FillRepository interface {
	// 批量写入（一条成交通知里的全部成交）
	Save(ctx context.Context, fills []*Fill) error

	// 查询
	GetByTradeID(ctx context.Context, symbol string, tradeID int64) (*Fill, error)
	GetByUser(ctx context.Context, userID int64, symbol string, limit int) ([]*Fill, error)
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]*Fill, error)
}
