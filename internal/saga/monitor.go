package saga

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor は未修復の不整合を定期的に数え、残っている間は警告ログを出す。
// 修復は行わない。
type Monitor struct {
	// store はSagaログ。
	store *Store
	// interval は確認間隔。
	interval time.Duration
	// logger はロガー。
	logger *zap.Logger
}

// NewMonitor は新しいMonitorを生成する。
func NewMonitor(store *Store, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:    store,
		interval: interval,
		logger:   logger.Named("saga-monitor"),
	}
}

// Start はctxがキャンセルされるまで確認ループを実行する。
// バックグラウンドgoroutineとして呼び出されることを想定している。
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("不整合の監視を開始します", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("不整合の監視を停止します")
			return
		case <-ticker.C:
			_, _ = m.Check(ctx)
		}
	}
}

// Check は未修復の不整合の件数を返し、1件以上あれば警告ログを出す。
func (m *Monitor) Check(ctx context.Context) (int, error) {
	n, err := m.store.CountByStatus(ctx, StatusInconsistent)
	if err != nil {
		m.logger.Warn("不整合件数の取得に失敗", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		m.logger.Warn("未修復の不整合があります", zap.Int("count", n))
	}
	return n, nil
}
