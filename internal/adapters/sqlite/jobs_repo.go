package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

// Format à largeur fixe: les comparaisons SQL sur les dates restent lexicographiques.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// JobsRepository stocke chaque job avec ses tâches dans job_json; les colonnes
// servent au filtrage.
type JobsRepository struct {
	db *sql.DB
}

func NewJobsRepository(db *sql.DB) *JobsRepository {
	return &JobsRepository{db: db}
}

func (r *JobsRepository) Save(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	var due any
	if job.DueDate != nil {
		due = formatTime(*job.DueDate)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs(id, job_number, status, priority, due_date, created_at, updated_at, job_json)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_number = excluded.job_number,
			status = excluded.status,
			priority = excluded.priority,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at,
			job_json = excluded.job_json
	`, job.ID, job.JobNumber, string(job.Status), int(job.Priority), due,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt), payload)
	if isUniqueViolation(err) {
		return ports.ErrConflict
	}
	return err
}

func (r *JobsRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	return r.one(ctx, `SELECT job_json FROM jobs WHERE id = ?`, id)
}

func (r *JobsRepository) GetByNumber(ctx context.Context, jobNumber string) (*domain.Job, error) {
	return r.one(ctx, `SELECT job_json FROM jobs WHERE job_number = ?`, jobNumber)
}

func (r *JobsRepository) ListByStatus(ctx context.Context, statuses []domain.JobStatus) ([]*domain.Job, error) {
	if len(statuses) == 0 {
		return r.many(ctx, `SELECT job_json FROM jobs ORDER BY job_number`)
	}
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return r.many(ctx, `SELECT job_json FROM jobs WHERE status IN (`+strings.Join(marks, ",")+`) ORDER BY job_number`, args...)
}

func (r *JobsRepository) ListDueBefore(ctx context.Context, t time.Time) ([]*domain.Job, error) {
	return r.many(ctx, `
		SELECT job_json FROM jobs
		WHERE due_date IS NOT NULL AND due_date < ? AND status NOT IN (?, ?)
		ORDER BY job_number
	`, formatTime(t), string(domain.JobCompleted), string(domain.JobCancelled))
}

func (r *JobsRepository) one(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	var payload []byte
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	var j domain.Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *JobsRepository) many(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Job{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var j domain.Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

var _ ports.JobRepository = (*JobsRepository)(nil)
