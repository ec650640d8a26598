package enrich

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/pkg/httpclient"
)

// NameLookup はユーザーIDから表示名を取得する。
type NameLookup interface {
	GetName(ctx context.Context, id, token string) (*httpclient.Response, error)
}

// NameCache は表示名のキャッシュ。
// キャッシュの障害は名前解決を失敗させず、直接の取得にフォールバックする。
type NameCache interface {
	Get(ctx context.Context, id string) (string, bool)
	Set(ctx context.Context, id, name string)
}

// Enricher は部屋一覧に表示名を付与する。
type Enricher struct {
	// names は表示名を取得するユーザーサービスのクライアント。
	names NameLookup
	// cache は表示名のキャッシュ。nilならキャッシュしない。
	cache NameCache
	// concurrency は名前解決の同時実行数。
	concurrency int
	// logger はロガー。
	logger *zap.Logger
}

// Option はEnricherの設定を変更する。
type Option func(*Enricher)

// WithCache は表示名キャッシュを設定する。
func WithCache(cache NameCache) Option {
	return func(e *Enricher) { e.cache = cache }
}

// WithConcurrency は名前解決の同時実行数を設定する。1未満の値は1として扱う。
func WithConcurrency(n int) Option {
	return func(e *Enricher) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// New は新しいEnricherを生成する。
func New(names NameLookup, logger *zap.Logger, opts ...Option) *Enricher {
	e := &Enricher{
		names:       names,
		concurrency: 1,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich は各部屋の家主・借主IDを表示名に置き換えた新しいスライスを返す。
// 入力と同じ件数・同じ順序の部屋を返す。取得に失敗したフィールドはnilになる。
// 借主のいない部屋は借主の名前解決を行わない。
func (e *Enricher) Enrich(ctx context.Context, rooms []backend.Room, token string) []backend.Room {
	out := make([]backend.Room, len(rooms))
	copy(out, rooms)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range out {
		if id := out[i].Landlord; id != nil {
			g.Go(func() error {
				out[i].Landlord = e.resolve(ctx, *id, token)
				return nil
			})
		}
		if id := out[i].Tenant; id != nil {
			g.Go(func() error {
				out[i].Tenant = e.resolve(ctx, *id, token)
				return nil
			})
		}
	}
	_ = g.Wait()

	return out
}

// resolve はIDを表示名に変換する。200以外の応答や通信エラーの場合はnilを返す。
func (e *Enricher) resolve(ctx context.Context, id, token string) *string {
	if e.cache != nil {
		if name, ok := e.cache.Get(ctx, id); ok {
			return &name
		}
	}

	resp, err := e.names.GetName(ctx, id, token)
	if err != nil {
		e.logger.Warn("表示名の取得に失敗", zap.String("user_id", id), zap.Error(err))
		return nil
	}
	if !resp.OK() {
		e.logger.Debug("表示名を解決できません", zap.String("user_id", id), zap.Int("status", resp.StatusCode))
		return nil
	}

	name := backend.TextValue(resp.Body)
	if e.cache != nil {
		e.cache.Set(ctx, id, name)
	}
	return &name
}
