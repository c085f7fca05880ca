package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/reviewdrop/pkg/event"
)

// eventRow はeventsテーブルの行。
type eventRow struct {
	ID            string    `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	Data          string    `db:"data"`
	CreatedAt     time.Time `db:"created_at"`
}

const appendEvent = `INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

// AppendEvent はイベントを追記する。
func (q *Queries) AppendEvent(ctx context.Context, e *event.Event) error {
	_, err := q.db.ExecContext(ctx, q.db.Rebind(appendEvent),
		e.ID, e.AggregateID, string(e.AggregateType), string(e.EventType), string(e.Data), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	return nil
}

// Publish はイベントをeventsテーブルに追記する。event.Publisherを満たす。
func (q *Queries) Publish(ctx context.Context, e *event.Event) error {
	return q.AppendEvent(ctx, e)
}

const listEventsByAggregate = `SELECT id, aggregate_id, aggregate_type, event_type, data, created_at
FROM events WHERE aggregate_id = ? ORDER BY created_at, id`

// ListEventsByAggregate は対象エンティティのイベントを古い順に返す。
func (q *Queries) ListEventsByAggregate(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var rows []eventRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(listEventsByAggregate), aggregateID); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}

	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, event.Event{
			ID:            r.ID,
			AggregateID:   r.AggregateID,
			AggregateType: event.AggregateType(r.AggregateType),
			EventType:     event.Type(r.EventType),
			Data:          json.RawMessage(r.Data),
			CreatedAt:     r.CreatedAt,
		})
	}
	return events, nil
}
