package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nao1215/rental/pkg/event"
)

// Publisher はイベントを配信する。
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// LogPublisher はイベントをログとして出力する。
// 補償失敗イベントはerrorレベル、それ以外はinfoレベルで出力する。
type LogPublisher struct {
	// logger はロガー。
	logger *zap.Logger
}

// NewLogPublisher は新しいLogPublisherを生成する。
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish はイベントをログに出力する。
func (p *LogPublisher) Publish(_ context.Context, ev *event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.EventType)),
		zap.String("aggregate_id", ev.AggregateID),
		zap.String("saga_id", ev.SagaID),
		zap.ByteString("data", ev.Data),
	}
	if ev.EventType == event.TypeCompensationFailed {
		p.logger.Error("バックエンド間の不整合を検知", fields...)
		return nil
	}
	p.logger.Info("イベント", fields...)
	return nil
}

// Fanout は複数のPublisherへ順に配信する。
// 一部の配信先が失敗しても残りへの配信は続け、全てのエラーをまとめて返す。
type Fanout []Publisher

// Publish は全ての配信先にイベントを配信する。
func (f Fanout) Publish(ctx context.Context, ev *event.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
