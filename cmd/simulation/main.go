// 文件: cmd/simulation/main.go
// 全链路模拟
//
// 单机内存模式跑通完整链路：
//   行情喂价 → 预言机 → 风险监控 → 强平命令 → 引擎撮合/处置
//                                       │
//   随机下单 ─────────────────────────► 引擎 ──► 事件日志 / 成交镜像 / 告警
//
// 传 -nats 时成交和告警推真实 NATS；不传用空通知器。
// 传 -kafka 时事件日志走真实集群并起成交镜像消费组，
// 传 -mysql 时成交/持仓/规格落库，传 -redis 时快照和告警走 Redis

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mex.com/pkg/alert"
	"mex.com/pkg/engine"
	"mex.com/pkg/eventlog"
	"mex.com/pkg/history"
	"mex.com/pkg/liquidation"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/notify"
	"mex.com/pkg/oracle"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
	"mex.com/pkg/snapshot"
	"mex.com/pkg/symbol"
)

const simSymbol = "BTC_USDT"

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	natsURL := flag.String("nats", "", "NATS 地址，空则不推送")
	kafkaBrokers := flag.String("kafka", "", "Kafka broker 列表（逗号分隔），空则事件日志落内存")
	mysqlDSN := flag.String("mysql", "", "MySQL DSN，空则成交/持仓镜像落内存")
	redisAddr := flag.String("redis", "", "Redis 地址，空则快照/告警落内存")
	duration := flag.Duration("duration", 0, "运行时长，0 表示等 Ctrl-C")
	flag.Parse()

	log.Println("🚀 starting full system simulation...")

	// 1. 外设：事件日志 / 快照存储 / 落库镜像 / 通知
	// -------------------------------------------------------------------------
	memlog := eventlog.NewMemoryLog()
	var evlog eventlog.Appender = memlog
	if *kafkaBrokers != "" {
		klog, err := eventlog.NewKafkaLog(
			eventlog.DefaultKafkaConfig(strings.Split(*kafkaBrokers, ",")))
		if err != nil {
			log.Fatalf("connect kafka: %v", err)
		}
		defer klog.Close()
		evlog = klog
	}

	var rds *redis.Client
	if *redisAddr != "" {
		rds = redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rds.Close()
	}

	var snapStore snapshot.Store = snapshot.NewMemoryStore()
	if rds != nil {
		snapStore = snapshot.NewRedisStore(rds)
	}

	fills, posMirror, db := mirrors(*mysqlDSN)
	if posMirror != nil {
		defer posMirror.Close()
	}

	// Kafka 模式下成交镜像走消费组在线消费，内存模式停机后统一补
	if *kafkaBrokers != "" {
		consumer, err := history.NewMirror(fills).NewConsumer(strings.Split(*kafkaBrokers, ","))
		if err != nil {
			log.Fatalf("start mirror consumer: %v", err)
		}
		consumer.Start()
		defer consumer.Stop()
	}

	var notifier notify.Notifier = notify.NewNopNotifier()
	if *natsURL != "" {
		n, err := notify.NewNATSNotifier(*natsURL)
		if err != nil {
			log.Fatalf("connect nats: %v", err)
		}
		notifier = n
	}
	defer notifier.Close()

	// 2. 引擎
	// -------------------------------------------------------------------------
	eng := engine.New(engine.DefaultConfig(), evlog, notifier, snapStore)

	spec := symbol.DefaultSpec(simSymbol, "BTC", "USDT")
	if err := eng.RegisterSymbol(spec, risk.DefaultConfig(simSymbol)); err != nil {
		log.Fatalf("register symbol: %v", err)
	}
	if err := eng.OpenSymbol(simSymbol); err != nil {
		log.Fatalf("open symbol: %v", err)
	}

	// 管理面：规格落库，带 Redis 时走缓存装饰器
	if db != nil {
		var specs symbol.Repository = symbol.NewMySQLRepository(db)
		if rds != nil {
			specs = symbol.NewCachedRepository(specs, rds)
		}
		if err := specs.Create(context.Background(), spec); err != nil && !errors.Is(err, symbol.ErrSymbolExists) {
			log.Printf("persist symbol spec: %v", err)
		}
	}

	// 3. 预言机 + 风险监控 + 告警
	// -------------------------------------------------------------------------
	index := oracle.NewIndexSource(oracle.DefaultFeedTimeout)
	risks := oracle.New(index)

	var alerts alert.Manager = alert.NewMemoryManager(alert.DefaultCooldown)
	if *redisAddr != "" {
		rm := alert.NewRedisManager(*redisAddr, alert.DefaultCooldown)
		defer rm.Close()
		alerts = rm
	}
	alertSvc := alert.NewService(alerts, notifier)

	monitor := liquidation.NewMonitor(risks, eng, eng)
	monitor.OnTierChange(alertSvc.OnTierChange)

	// 持仓变更同时喂预言机视图、监控索引和持仓镜像
	eng.OnPositionChanged(func(ev *position.ChangedEvent) {
		risks.OnPositionChanged(ev)
		monitor.OnPositionChanged(ev)
		if posMirror != nil {
			posMirror.OnChanged(ev)
		}
	})
	// 指数价变化触发紧急区用户立即复查
	index.OnUpdate(monitor.OnPriceChange)

	eng.Start()
	monitor.Start()
	log.Println("✅ engine and risk monitor started")

	// 4. 高风险用户建仓：多头 10 BTC @ 50000，10x
	// -------------------------------------------------------------------------
	index.UpdateFeed(simSymbol, "sim", decimal.NewFromInt(50000))

	highRiskUser := int64(888)
	makerUser := int64(1)
	eng.Execute(engine.NewOrderCommand(
		limitOrder(makerUser, mtrade.SideSell, 50000, 10), position.ModeIsolated))
	result := eng.Execute(engine.NewOrderCommand(
		limitOrder(highRiskUser, mtrade.SideBuy, 50000, 10), position.ModeIsolated))
	if !result.Reason.OK() {
		log.Fatalf("seed position rejected: %s", result.Reason)
	}
	log.Printf("✅ user %d long 10 BTC @ 50000 (10x)", highRiskUser)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 行情模拟：随机波动，2 秒后暴跌到 45000 触发强平链路
	// -------------------------------------------------------------------------
	go runMarket(ctx, eng, index)

	// 6. 定时快照
	// -------------------------------------------------------------------------
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.Submit(engine.SnapshotCommand())
			}
		}
	}()

	// 等待退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	if *duration > 0 {
		select {
		case <-sigCh:
		case <-time.After(*duration):
		}
	} else {
		<-sigCh
	}

	log.Println("🛑 shutting down...")
	cancel()
	monitor.Stop()
	eng.Stop()

	report(eng, memlog, alerts, fills)
}

// mirrors 按 DSN 装配落库侧：成交历史仓库、异步持仓镜像和共享的 DB 连接。
// DSN 为空或连接失败时成交落内存、持仓镜像关闭
func mirrors(dsn string) (history.FillRepository, *position.MirrorWriter, *gorm.DB) {
	if dsn == "" {
		return history.NewMemoryFillRepository(), nil, nil
	}
	db, err := history.OpenMySQL(dsn)
	if err != nil {
		log.Printf("open mysql failed, falling back to memory: %v", err)
		return history.NewMemoryFillRepository(), nil, nil
	}
	if err := db.AutoMigrate(&position.Position{}, &symbol.Spec{}); err != nil {
		log.Fatalf("migrate mirrors: %v", err)
	}
	writer := position.NewMirrorWriter(position.NewMySQLMirror(db), 1024)
	return history.NewMySQLFillRepository(db), writer, db
}

// limitOrder 构造限价开仓单
func limitOrder(userID int64, side mtrade.Side, price, qty int64) *mtrade.Order {
	return &mtrade.Order{
		UserID:   userID,
		Symbol:   simSymbol,
		Side:     side,
		Type:     mtrade.OrderTypeLimit,
		Action:   mtrade.ActionOpen,
		Price:    price * mtrade.Precision,
		Qty:      qty * mtrade.Precision,
		Leverage: 10,
	}
}

// runMarket 行情与流动性模拟
func runMarket(ctx context.Context, eng *engine.Engine, index *oracle.IndexSource) {
	price := float64(50000)
	crashed := false
	start := time.Now()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !crashed && time.Since(start) > 2*time.Second {
			// 暴跌：保证金 50000、浮亏 -50000 → 风险率 1.0，进强平区
			price = 45000
			crashed = true
			log.Printf("📉 FORCED CRASH! index dropped to %.0f", price)
		} else {
			price += (rand.Float64() - 0.5) * 20
		}

		index.UpdateFeed(simSymbol, "sim", decimal.NewFromFloat(price))

		// 双边挂单制造流动性，强平市价单要有对手盘
		tick := int64(price)
		eng.Submit(engine.NewOrderCommand(
			limitOrder(rand.Int63n(500)+2, mtrade.SideBuy, tick-rand.Int63n(20)-1, rand.Int63n(3)+1),
			position.ModeIsolated))
		eng.Submit(engine.NewOrderCommand(
			limitOrder(rand.Int63n(500)+2, mtrade.SideSell, tick+rand.Int63n(20)+1, rand.Int63n(3)+1),
			position.ModeIsolated))
	}
}

// report 停机后汇总：引擎统计、成交镜像落库数、最近告警
func report(eng *engine.Engine, memlog *eventlog.MemoryLog, alerts alert.Manager, repo history.FillRepository) {
	stats := eng.GetStats()
	log.Printf("[report] commands=%d orders=%d rejected=%d trades=%d liquidations=%d snapshots=%d",
		stats.CommandsApplied, stats.OrdersReceived, stats.OrdersRejected,
		stats.TradesExecuted, stats.Liquidations, stats.SnapshotsTaken)

	// 内存模式没有在线消费者，停机后把撮合结果 topic 过一遍镜像；
	// Kafka 模式内存日志为空，这里只剩计数
	handler := history.NewMirror(repo).Handler()
	for i, data := range memlog.Read(eventlog.TopicMatchResults, 1) {
		_ = handler(eventlog.TopicMatchResults, 0, int64(i+1), nil, data)
	}
	fills, _ := repo.GetBySymbol(context.Background(), simSymbol, 10000)
	log.Printf("[report] %d fills in history store, %d match-result batches in memory log",
		len(fills), memlog.Len(eventlog.TopicMatchResults))

	recent, err := alerts.Recent(context.Background(), 10)
	if err != nil {
		return
	}
	for _, a := range recent {
		log.Printf("[report] alert user=%d symbol=%s kind=%s tier=%s ratio=%s",
			a.UserID, a.Symbol, a.Kind, a.Tier, a.RiskRatio)
	}
}
