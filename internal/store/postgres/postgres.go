// Package postgres implements store.SnapshotStore over PostgreSQL.
//
// Grounded in control_plane/store/postgres.go's connection-pool-plus-
// prepared-query shape (pgxpool.Pool, ParseConfig tuning, pgx.ErrNoRows
// handling), adapted from the teacher's Agent/DesiredState/Job tables to
// a single tasks table holding both submission and completion fields.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// Store implements store.SnapshotStore using a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New initializes a Store with a tuned connection pool, grounded in the
// teacher's NewPostgresStore pool settings.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveTask upserts a task's submission-time fields.
func (s *Store) SaveTask(ctx context.Context, task *taskmodel.Task) error {
	metadata, err := json.Marshal(task.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO fluxsched_tasks (id, type, payload, deadline, priority, created_at, submitted_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query,
		task.ID, task.Type, task.Payload, task.Deadline, task.Priority,
		task.CreatedAt, task.SubmittedBy, metadata,
	)
	return err
}

// SaveResult records a task's completion. A task id present in
// fluxsched_task_results is no longer pending on reload.
func (s *Store) SaveResult(ctx context.Context, result *taskmodel.TaskResult) error {
	query := `
		INSERT INTO fluxsched_task_results (task_id, success, result_data, error_message, execution_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (task_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		result.TaskID, result.Success, result.ResultData, result.ErrorMessage, result.ExecutionMS,
	)
	return err
}

// LoadPending returns every saved task with no matching completion row,
// per spec.md §6: unfinished tasks on reload are treated as pending.
func (s *Store) LoadPending(ctx context.Context) ([]*taskmodel.Task, error) {
	query := `
		SELECT t.id, t.type, t.payload, t.deadline, t.priority, t.created_at, t.submitted_by, t.metadata
		FROM fluxsched_tasks t
		LEFT JOIN fluxsched_task_results r ON r.task_id = t.id
		WHERE r.task_id IS NULL
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*taskmodel.Task
	for rows.Next() {
		var t taskmodel.Task
		var metadata []byte
		if err := rows.Scan(&t.ID, &t.Type, &t.Payload, &t.Deadline, &t.Priority, &t.CreatedAt, &t.SubmittedBy, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, err
			}
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}
