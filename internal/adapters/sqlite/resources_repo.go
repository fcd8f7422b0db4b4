package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

type MachinesRepository struct {
	db *sql.DB
}

func NewMachinesRepository(db *sql.DB) *MachinesRepository {
	return &MachinesRepository{db: db}
}

// Save remplace aussi la liste des capacités de la machine.
func (r *MachinesRepository) Save(ctx context.Context, m domain.Machine) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO machines(id, name, status, machine_json) VALUES(?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status, machine_json = excluded.machine_json
		`, m.ID, m.Name, string(m.Status), payload); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM machine_capabilities WHERE machine_id = ?`, m.ID); err != nil {
			return err
		}
		for _, c := range m.Capabilities {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO machine_capabilities(machine_id, task_type) VALUES(?, ?)`, m.ID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *MachinesRepository) Get(ctx context.Context, id string) (domain.Machine, error) {
	var payload []byte
	if err := r.db.QueryRowContext(ctx, `SELECT machine_json FROM machines WHERE id = ?`, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Machine{}, ports.ErrNotFound
		}
		return domain.Machine{}, err
	}
	var m domain.Machine
	err := json.Unmarshal(payload, &m)
	return m, err
}

func (r *MachinesRepository) List(ctx context.Context) ([]domain.Machine, error) {
	return r.many(ctx, `SELECT machine_json FROM machines ORDER BY id`)
}

// ListByCapability: un type vide renvoie toutes les machines.
func (r *MachinesRepository) ListByCapability(ctx context.Context, taskType string) ([]domain.Machine, error) {
	if taskType == "" {
		return r.List(ctx)
	}
	return r.many(ctx, `
		SELECT m.machine_json FROM machines m
		JOIN machine_capabilities c ON c.machine_id = m.id
		WHERE c.task_type = ?
		ORDER BY m.id
	`, taskType)
}

func (r *MachinesRepository) many(ctx context.Context, query string, args ...any) ([]domain.Machine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Machine{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m domain.Machine
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type OperatorsRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOperatorsRepository(db *sql.DB) *OperatorsRepository {
	return &OperatorsRepository{db: db, now: time.Now}
}

func (r *OperatorsRepository) Save(ctx context.Context, o domain.Operator) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO operators(id, name, status, operator_json) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status, operator_json = excluded.operator_json
	`, o.ID, o.Name, string(o.Status), payload)
	return err
}

func (r *OperatorsRepository) Get(ctx context.Context, id string) (domain.Operator, error) {
	var payload []byte
	if err := r.db.QueryRowContext(ctx, `SELECT operator_json FROM operators WHERE id = ?`, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Operator{}, ports.ErrNotFound
		}
		return domain.Operator{}, err
	}
	var o domain.Operator
	err := json.Unmarshal(payload, &o)
	return o, err
}

func (r *OperatorsRepository) List(ctx context.Context) ([]domain.Operator, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT operator_json FROM operators ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Operator{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o domain.Operator
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListBySkill filtre en Go: la validité d'une certification dépend de la date courante.
func (r *OperatorsRepository) ListBySkill(ctx context.Context, skillType string, minLevel int) ([]domain.Operator, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := []domain.Operator{}
	for _, o := range all {
		if o.SkillLevel(skillType, now) >= minLevel {
			out = append(out, o)
		}
	}
	return out, nil
}

var (
	_ ports.MachineRepository  = (*MachinesRepository)(nil)
	_ ports.OperatorRepository = (*OperatorsRepository)(nil)
)
