// 文件: pkg/position/mirror.go
// 持仓 MySQL 镜像
//
// 【设计】
// - 内存是唯一事实来源，MySQL 只做异步镜像，供查询/对账
// - 镜像落库失败不影响撮合路径，只记日志
// - 所有操作带 context 支持超时控制

package position

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPositionNotFound 持仓不存在
var ErrPositionNotFound = errors.New("position: not found")

// MirrorRepository 持仓镜像存储接口
type MirrorRepository interface {
	// Upsert 按 (user_id, symbol) 插入或更新
	Upsert(ctx context.Context, pos *Position) error

	// Delete 删除镜像（完全平仓后）
	Delete(ctx context.Context, userID int64, symbol string) error

	// GetByUser 查询用户全部持仓镜像
	GetByUser(ctx context.Context, userID int64) ([]*Position, error)
}

// 确保实现了接口
var _ MirrorRepository = (*MySQLMirror)(nil)

// MySQLMirror MySQL 实现
type MySQLMirror struct {
	db *gorm.DB
}

// NewMySQLMirror 创建 MySQL 镜像存储
func NewMySQLMirror(db *gorm.DB) *MySQLMirror {
	return &MySQLMirror{db: db}
}

// Upsert 按 (user_id, symbol) 插入或更新
func (r *MySQLMirror) Upsert(ctx context.Context, pos *Position) error {
	now := time.Now().UnixMilli()
	if pos.CreatedAt == 0 {
		pos.CreatedAt = now
	}
	pos.UpdatedAt = now

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"side", "mode", "qty", "avg_price", "margin", "leverage",
				"realized_pnl", "liq_price", "locked", "updated_at",
			}),
		}).
		Create(pos).Error
}

// Delete 删除镜像
func (r *MySQLMirror) Delete(ctx context.Context, userID int64, symbol string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		Delete(&Position{}).Error
}

// GetByUser 查询用户全部持仓镜像
func (r *MySQLMirror) GetByUser(ctx context.Context, userID int64) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("symbol").
		Find(&positions).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return positions, nil
}

// =============================================================================
// 异步镜像写入器
// =============================================================================

// MirrorWriter 异步落库：撮合路径只投递，落库在独立 goroutine
//
// 【设计】队列满时丢弃并记日志，内存状态由快照兜底，
// 镜像丢失最多造成查询侧短暂滞后
type MirrorWriter struct {
	repo  MirrorRepository
	queue chan *Position
	done  chan struct{}
}

// NewMirrorWriter 创建异步写入器
func NewMirrorWriter(repo MirrorRepository, queueSize int) *MirrorWriter {
	w := &MirrorWriter{
		repo:  repo,
		queue: make(chan *Position, queueSize),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue 投递镜像更新（非阻塞）
func (w *MirrorWriter) Enqueue(pos *Position) {
	c := *pos
	select {
	case w.queue <- &c:
	default:
		log.Printf("[position] mirror queue full, dropped user=%d symbol=%s", pos.UserID, pos.Symbol)
	}
}

// OnChanged 把持仓变更事件转成镜像行投递，Qty=0 的事件落库时删除该行。
// 签名兼容引擎的持仓变更回调，直接挂到回调链上
func (w *MirrorWriter) OnChanged(ev *ChangedEvent) {
	w.Enqueue(&Position{
		UserID:      ev.UserID,
		Symbol:      ev.Symbol,
		Side:        ev.Side,
		Mode:        ev.Mode,
		Qty:         ev.Qty,
		AvgPrice:    ev.AvgPrice,
		Margin:      ev.Margin,
		Leverage:    ev.Leverage,
		RealizedPnL: ev.RealizedPnL,
		LiqPrice:    ev.LiqPrice,
		Locked:      ev.Locked,
	})
}

// Close 停止写入器，排空队列
func (w *MirrorWriter) Close() {
	close(w.queue)
	<-w.done
}

func (w *MirrorWriter) loop() {
	defer close(w.done)
	for pos := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		var err error
		if pos.Qty.IsZero() {
			err = w.repo.Delete(ctx, pos.UserID, pos.Symbol)
		} else {
			err = w.repo.Upsert(ctx, pos)
		}
		if err != nil {
			log.Printf("[position] mirror write failed user=%d symbol=%s: %v", pos.UserID, pos.Symbol, err)
		}
		cancel()
	}
}
