// レンタルゲートウェイのエントリポイント。
// ユーザーサービスとルームサービスの前段に立ち、JWT認証、部屋一覧への表示名の付与、
// 予約・賃貸・予約取消・ユーザー削除のワークフローを担当する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/internal/config"
	"github.com/nao1215/rental/internal/enrich"
	"github.com/nao1215/rental/internal/gateway"
	"github.com/nao1215/rental/internal/notify"
	"github.com/nao1215/rental/internal/saga"
	"github.com/nao1215/rental/pkg/httpclient"
	"github.com/nao1215/rental/pkg/logger"
	"github.com/nao1215/rental/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat, "gateway")
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, lg)
	stop()
	os.Exit(exitCode(lg, err))
}

// exitCode はrunの結果をログに残し、バッファを書き出してから終了コードを返す。
// os.Exitはdeferを実行しないため、Syncはここで済ませる。
func exitCode(lg *zap.Logger, err error) int {
	defer func() { _ = lg.Sync() }()
	if err != nil {
		lg.Error("Gatewayサービスの実行に失敗", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	store, err := saga.Open(ctx, cfg.DBPath, lg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	users := backend.NewUserClient(httpclient.New(cfg.UserServiceURL, cfg.BackendTimeout))
	rooms := backend.NewRoomClient(httpclient.New(cfg.RoomServiceURL, cfg.BackendTimeout))

	enrichOpts := []enrich.Option{enrich.WithConcurrency(cfg.EnrichConcurrency)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		enrichOpts = append(enrichOpts, enrich.WithCache(enrich.NewRedisNameCache(rdb, cfg.NameCacheTTL, lg)))
		lg.Info("表示名キャッシュを有効にしました", zap.String("redis_addr", cfg.RedisAddr))
	}

	publishers := notify.Fanout{notify.NewLogPublisher(lg)}
	if cfg.MQTTBroker != "" {
		mqttPub, err := notify.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			return err
		}
		defer mqttPub.Close()
		publishers = append(publishers, mqttPub)
		lg.Info("MQTTへのイベント配信を有効にしました", zap.String("broker", cfg.MQTTBroker))
	}

	orch := saga.NewOrchestrator(users, rooms, store, publishers, lg)
	go saga.NewMonitor(store, cfg.MonitorInterval, lg).Start(ctx)

	server := gateway.NewServer(gateway.Options{
		Port:         cfg.Port,
		Verifier:     middleware.NewVerifier(cfg.JWTSecret),
		FrontendURLs: cfg.FrontendURLs,
		Users:        users,
		Rooms:        rooms,
		Enricher:     enrich.New(users, lg, enrichOpts...),
		Orchestrator: orch,
		Store:        store,
		Logger:       lg,
	})
	return server.Run(ctx)
}
