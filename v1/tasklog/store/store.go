// Package store persists lifecycle events in PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
	"github.com/Aleph-Alpha/rpcbridge/v1/tasklog"
)

// DefaultLimit is the page size when none is given.
const DefaultLimit = 10

// TaskLog is one persisted lifecycle event.
type TaskLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TaskID        string    `gorm:"size:64;index;not null" json:"task_id"`
	CorrelationID string    `gorm:"size:64;index" json:"correlation_id"`
	QueueName     string    `gorm:"size:255" json:"queue_name"`
	ServiceName   string    `gorm:"size:255;not null" json:"service_name"`
	TaskType      string    `gorm:"size:64;not null" json:"task_type"`
	Description   string    `gorm:"type:text" json:"description"`
	Status        string    `gorm:"size:16;not null" json:"status"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName implements gorm's tabler.
func (TaskLog) TableName() string { return "task_logs" }

// Page selects a window of results.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	return p.Limit
}

// Repository reads and writes task logs. It also implements
// tasklog.Observer, so it can be plugged into clients and servers directly.
type Repository struct {
	db postgres.Client
}

var _ tasklog.Observer = (*Repository)(nil)

// NewRepository returns a repository on db.
func NewRepository(db postgres.Client) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the task_logs table.
func (r *Repository) Migrate() error {
	if err := r.db.Migrate(&TaskLog{}); err != nil {
		return fmt.Errorf("migrate task_logs: %w", err)
	}
	return nil
}

// Record stores e. The correlation id doubles as the task id.
func (r *Repository) Record(ctx context.Context, e tasklog.Event) (*TaskLog, error) {
	row := FromEvent(e)
	if err := r.db.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("insert task log %s/%s: %w", e.CorrelationID, e.Status, err)
	}
	return row, nil
}

// OnEvent records e.
func (r *Repository) OnEvent(ctx context.Context, e tasklog.Event) error {
	_, err := r.Record(ctx, e)
	return err
}

// ByCorrelationID returns the events of one call in insertion order.
func (r *Repository) ByCorrelationID(ctx context.Context, correlationID string, page Page) ([]TaskLog, error) {
	var rows []TaskLog
	err := r.db.Query(ctx).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Limit(page.limit()).
		Offset(page.Offset).
		Find(&rows)
	return rows, err
}

// Recent returns the newest events, optionally filtered by queue.
func (r *Repository) Recent(ctx context.Context, queue string, page Page) ([]TaskLog, error) {
	q := r.db.Query(ctx)
	if queue != "" {
		q = q.Where("queue_name = ?", queue)
	}
	var rows []TaskLog
	err := q.Order("id DESC").Limit(page.limit()).Offset(page.Offset).Find(&rows)
	return rows, err
}

// FromEvent maps an event to its row.
func FromEvent(e tasklog.Event) *TaskLog {
	taskType := e.TaskType
	if taskType == "" {
		taskType = tasklog.DefaultTaskType
	}
	created := e.OccurredAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &TaskLog{
		TaskID:        e.CorrelationID,
		CorrelationID: e.CorrelationID,
		QueueName:     e.QueueName,
		ServiceName:   e.ServiceName,
		TaskType:      taskType,
		Description:   e.Description,
		Status:        e.Status,
		CreatedAt:     created,
	}
}
