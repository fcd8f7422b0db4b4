package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

type SchedulesRepository struct {
	db *sql.DB
}

func NewSchedulesRepository(db *sql.DB) *SchedulesRepository {
	return &SchedulesRepository{db: db}
}

func (r *SchedulesRepository) Create(ctx context.Context, sc *domain.Schedule) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedules(id, name, status, created_by, version, created_at, updated_at, schedule_json)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, sc.ID, sc.Name, string(sc.Status), sc.CreatedBy, sc.Version, formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt), payload)
		if isUniqueViolation(err) {
			return ports.ErrConflict
		}
		if err != nil {
			return err
		}
		return writeScheduleJobs(ctx, tx, sc)
	})
}

func (r *SchedulesRepository) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	var payload []byte
	if err := r.db.QueryRowContext(ctx, `SELECT schedule_json FROM schedules WHERE id = ?`, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return decodeSchedule(payload)
}

// Update n'écrit que si la version stockée vaut expectedVersion, puis
// l'incrémente.
func (r *SchedulesRepository) Update(ctx context.Context, sc *domain.Schedule, expectedVersion int) error {
	prev := sc.Version
	sc.Version = expectedVersion + 1
	payload, err := json.Marshal(sc)
	if err != nil {
		sc.Version = prev
		return err
	}
	err = r.update(ctx, sc, expectedVersion, payload)
	if err != nil {
		sc.Version = prev
	}
	return err
}

func (r *SchedulesRepository) update(ctx context.Context, sc *domain.Schedule, expectedVersion int, payload []byte) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE schedules
			SET name = ?, status = ?, version = ?, updated_at = ?, schedule_json = ?
			WHERE id = ? AND version = ?
		`, sc.Name, string(sc.Status), sc.Version, formatTime(sc.UpdatedAt), payload, sc.ID, expectedVersion)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var one int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, sc.ID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
				return ports.ErrNotFound
			}
			return ports.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_jobs WHERE schedule_id = ?`, sc.ID); err != nil {
			return err
		}
		return writeScheduleJobs(ctx, tx, sc)
	})
}

func (r *SchedulesRepository) ListByStatus(ctx context.Context, status domain.ScheduleStatus) ([]*domain.Schedule, error) {
	return r.many(ctx, `SELECT schedule_json FROM schedules WHERE status = ? ORDER BY created_at`, string(status))
}

func (r *SchedulesRepository) ListByJob(ctx context.Context, jobID string) ([]*domain.Schedule, error) {
	return r.many(ctx, `
		SELECT s.schedule_json FROM schedules s
		JOIN schedule_jobs j ON j.schedule_id = s.id
		WHERE j.job_id = ?
		ORDER BY s.created_at
	`, jobID)
}

func (r *SchedulesRepository) ListByCreator(ctx context.Context, createdBy string) ([]*domain.Schedule, error) {
	return r.many(ctx, `SELECT schedule_json FROM schedules WHERE created_by = ? ORDER BY created_at`, createdBy)
}

func (r *SchedulesRepository) many(ctx context.Context, query string, args ...any) ([]*domain.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Schedule{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		sc, err := decodeSchedule(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Un job peut aussi n'apparaître que via ses affectations.
func writeScheduleJobs(ctx context.Context, tx *sql.Tx, sc *domain.Schedule) error {
	seen := map[string]bool{}
	ids := append([]string(nil), sc.JobIDs...)
	for _, a := range sc.Assignments {
		ids = append(ids, a.JobID)
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO schedule_jobs(schedule_id, job_id) VALUES(?, ?)`, sc.ID, id); err != nil {
			return err
		}
	}
	return nil
}

func decodeSchedule(payload []byte) (*domain.Schedule, error) {
	var sc domain.Schedule
	if err := json.Unmarshal(payload, &sc); err != nil {
		return nil, err
	}
	if sc.Assignments == nil {
		sc.Assignments = map[string]domain.Assignment{}
	}
	return &sc, nil
}

var _ ports.ScheduleRepository = (*SchedulesRepository)(nil)
