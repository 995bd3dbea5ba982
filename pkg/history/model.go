// 文件: pkg/history/model.go
// 成交历史镜像模型
//
// 引擎内存里只留订单簿和持仓，成交明细经 Kafka 旁路落库。
// 镜像只追加不更新，落库延迟不影响引擎状态

package history

import (
	"mex.com/pkg/mtrade"
)

// Fill 成交历史记录
// 价格数量沿用引擎的定点数表示，金额类字段存十进制字符串
type Fill struct {
	ID      uint  `gorm:"primaryKey;autoIncrement"`
	TradeID int64 `gorm:"column:trade_id;index:idx_symbol_trade,priority:2"`

	Symbol string `gorm:"column:symbol;type:varchar(32);index:idx_symbol_trade,priority:1"`

	Price int64 `gorm:"column:price"`
	Qty   int64 `gorm:"column:qty"`

	TakerOrderID int64 `gorm:"column:taker_order_id"`
	MakerOrderID int64 `gorm:"column:maker_order_id"`
	TakerUserID  int64 `gorm:"column:taker_user_id;index"`
	MakerUserID  int64 `gorm:"column:maker_user_id;index"`

	TakerSide   int8   `gorm:"column:taker_side"`
	TakerAction int8   `gorm:"column:taker_action"`
	MakerAction int8   `gorm:"column:maker_action"`
	Flag        string `gorm:"column:flag;type:varchar(16)"` // NORMAL/LIQUIDATION/ADL

	Amount string `gorm:"column:amount;type:varchar(40)"`

	Timestamp int64 `gorm:"column:timestamp;index"`
}

func (Fill) TableName() string {
	return "fills"
}

// NewFill 从引擎成交构造镜像记录
func NewFill(t *mtrade.Trade) *Fill {
	return &Fill{
		TradeID:      t.ID,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Qty:          t.Qty,
		TakerOrderID: t.TakerOrderID,
		MakerOrderID: t.MakerOrderID,
		TakerUserID:  t.TakerUserID,
		MakerUserID:  t.MakerUserID,
		TakerSide:    int8(t.TakerSide),
		TakerAction:  int8(t.TakerAction),
		MakerAction:  int8(t.MakerAction),
		Flag:         t.Flag.String(),
		Amount:       t.Amount.String(),
		Timestamp:    t.Timestamp,
	}
}
