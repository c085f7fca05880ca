package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher はイベントをフィードに発行するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// RedisPublisher はRedisのPub/Subチャネルにイベントを発行する。
type RedisPublisher struct {
	// client はRedisクライアント。
	client redis.UniversalClient
	// channel は発行先のチャネル名。
	channel string
}

// NewRedisPublisher は新しいRedisPublisherを生成する。
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish はイベントをJSONにシリアライズしてチャネルに発行する。
func (p *RedisPublisher) Publish(ctx context.Context, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("Redisへのイベント発行に失敗: %w", err)
	}
	return nil
}

// LogPublisher はイベントを構造化ログとして出力する。
// Redisを使わない開発環境向け。
type LogPublisher struct {
	logger logrus.FieldLogger
}

// NewLogPublisher は新しいLogPublisherを生成する。
func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish はイベントをInfoレベルで出力する。
func (p *LogPublisher) Publish(_ context.Context, e *Event) error {
	p.logger.WithFields(logrus.Fields{
		"event_id":       e.ID,
		"aggregate_id":   e.AggregateID,
		"aggregate_type": e.AggregateType,
		"event_type":     e.EventType,
		"data":           string(e.Data),
	}).Info("イベントを発行しました")
	return nil
}

// Emit はイベントを生成して発行する。
// 失敗はログに記録するのみで、呼び出し元には返さない。
func Emit(ctx context.Context, p Publisher, aggregateID string, aggregateType AggregateType, eventType Type, data any) {
	if p == nil {
		return
	}
	e, err := New(aggregateID, aggregateType, eventType, data)
	if err != nil {
		logrus.WithError(err).WithField("event_type", eventType).Warn("イベントの生成に失敗")
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logrus.WithError(err).WithField("event_type", eventType).Warn("イベントの発行に失敗")
	}
}

// fanout は複数のPublisherに順に発行する。
type fanout []Publisher

// Fanout は渡されたすべてのPublisherに発行するPublisherを返す。
// nilは無視する。1つが失敗しても残りには発行し、エラーはまとめて返す。
func Fanout(publishers ...Publisher) Publisher {
	var f fanout
	for _, p := range publishers {
		if p != nil {
			f = append(f, p)
		}
	}
	return f
}

// Publish はすべてのPublisherにイベントを発行する。
func (f fanout) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
