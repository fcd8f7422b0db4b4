// Package scenario charge des jeux de données atelier décrits en YAML
// (ressources, jobs, horizon et, en option, un planning à valider).
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/config"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

type Scenario struct {
	Name        string                 `yaml:"name"`
	Horizon     Horizon                `yaml:"horizon"`
	Calendar    *config.CalendarConfig `yaml:"calendar"`
	Rules       config.RulesConfig     `yaml:"rules"`
	Machines    []Machine              `yaml:"machines"`
	Operators   []Operator             `yaml:"operators"`
	Jobs        []app.CreateJobRequest `yaml:"jobs"`
	Assignments []Assignment           `yaml:"assignments"`
}

type Horizon struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

type Machine struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Capabilities     []string `yaml:"capabilities"`
	Status           string   `yaml:"status"`
	Speed            float64  `yaml:"speed"`
	RequiresOperator *bool    `yaml:"requires_operator"`
	Capacity         int      `yaml:"capacity"`
	Zone             string   `yaml:"zone"`
}

type Skill struct {
	Skill     string     `yaml:"skill"`
	Level     int        `yaml:"level"`
	Certified time.Time  `yaml:"certified"`
	Expires   *time.Time `yaml:"expires"`
}

type Operator struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Status string  `yaml:"status"`
	Rate   float64 `yaml:"rate"`
	Shift  string  `yaml:"shift"`
	Skills []Skill `yaml:"skills"`
}

// Assignment décrit une affectation proposée, pour la validation hors ligne.
type Assignment struct {
	Task      string    `yaml:"task"`
	Machine   string    `yaml:"machine"`
	Operators []string  `yaml:"operators"`
	Start     time.Time `yaml:"start"`
	End       time.Time `yaml:"end"`
}

func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse refuse les clés inconnues pour signaler les fautes de frappe.
func Parse(b []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if !sc.Horizon.Start.Before(sc.Horizon.End) {
		return nil, fmt.Errorf("scenario %q: horizon start must be before end", sc.Name)
	}
	return &sc, nil
}

func (s *Scenario) MachineList() []domain.Machine {
	out := make([]domain.Machine, 0, len(s.Machines))
	for _, m := range s.Machines {
		dm := domain.Machine{
			ID:                        m.ID,
			Name:                      m.Name,
			Capabilities:              m.Capabilities,
			Status:                    domain.MachineStatus(strings.ToUpper(m.Status)),
			ProcessingSpeedMultiplier: m.Speed,
			RequiresOperator:          true,
			Capacity:                  m.Capacity,
			Zone:                      m.Zone,
		}
		if dm.Status == "" {
			dm.Status = domain.MachineAvailable
		}
		if dm.ProcessingSpeedMultiplier == 0 {
			dm.ProcessingSpeedMultiplier = 1
		}
		if dm.Capacity == 0 {
			dm.Capacity = 1
		}
		if m.RequiresOperator != nil {
			dm.RequiresOperator = *m.RequiresOperator
		}
		out = append(out, dm)
	}
	return out
}

func (s *Scenario) OperatorList() ([]domain.Operator, error) {
	out := make([]domain.Operator, 0, len(s.Operators))
	for _, o := range s.Operators {
		do := domain.Operator{
			ID:         o.ID,
			Name:       o.Name,
			Status:     domain.OperatorStatus(strings.ToUpper(o.Status)),
			HourlyRate: o.Rate,
		}
		if do.Status == "" {
			do.Status = domain.OperatorAvailable
		}
		if o.Shift != "" {
			r, err := config.ParseClockRange(o.Shift)
			if err != nil {
				return nil, fmt.Errorf("operator %s shift: %w", o.ID, err)
			}
			do.Shift = &r
		}
		for _, sk := range o.Skills {
			do.Skills = append(do.Skills, domain.SkillProficiency{SkillType: sk.Skill, Level: sk.Level, CertifiedAt: sk.Certified, ExpiresAt: sk.Expires})
		}
		out = append(out, do)
	}
	return out, nil
}

func (s *Scenario) JobList(now time.Time) ([]*domain.Job, error) {
	out := make([]*domain.Job, 0, len(s.Jobs))
	for _, req := range s.Jobs {
		j, err := app.BuildJob(req, now)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", req.JobNumber, err)
		}
		out = append(out, j)
	}
	return out, nil
}

// BusinessRules part de base; le calendrier et les règles du scénario priment
// quand ils sont renseignés.
func (s *Scenario) BusinessRules(base domain.BusinessRules) (domain.BusinessRules, error) {
	rules := base
	if s.Calendar != nil {
		cal, err := s.Calendar.Build()
		if err != nil {
			return rules, err
		}
		rules.Calendar = cal
	}
	if s.Rules.WIPZones != nil {
		rules.WIPZones = s.Rules.WIPZones
	}
	if s.Rules.CriticalSequences != nil {
		rules.CriticalSequences = s.Rules.CriticalSequences
	}
	return rules, rules.Validate()
}

func (s *Scenario) JobIDs(jobs []*domain.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

func (s *Scenario) Request(jobs []*domain.Job) app.SchedulingRequest {
	return app.SchedulingRequest{
		Name:      s.Name,
		JobIDs:    s.JobIDs(jobs),
		StartTime: s.Horizon.Start,
		EndTime:   s.Horizon.End,
		CreatedBy: "scenario",
	}
}

// Schedule construit le planning proposé par la section assignments.
func (s *Scenario) Schedule(jobs []*domain.Job, now time.Time) (*domain.Schedule, error) {
	sched, err := domain.NewSchedule("scenario", s.Name, domain.TimeWindow{Start: s.Horizon.Start, End: s.Horizon.End}, s.JobIDs(jobs), "scenario", now)
	if err != nil {
		return nil, err
	}
	tasks := map[string]*domain.Task{}
	for _, j := range jobs {
		for _, t := range j.Tasks {
			tasks[t.ID] = t
		}
	}
	for i, a := range s.Assignments {
		task, ok := tasks[a.Task]
		if !ok {
			return nil, fmt.Errorf("assignment %d: unknown task %q", i, a.Task)
		}
		da := domain.Assignment{
			ID:          fmt.Sprintf("a%d", i+1),
			TaskID:      task.ID,
			JobID:       task.JobID,
			MachineID:   a.Machine,
			OperatorIDs: a.Operators,
			Window:      domain.TimeWindow{Start: a.Start, End: a.End},
		}
		if opt, ok := task.Option(a.Machine); ok {
			da.SetupDuration = opt.SetupDuration
			da.Attended = opt.RequiresOperatorFullDuration
		}
		if err := sched.Assign(da); err != nil {
			return nil, fmt.Errorf("assignment %d: %w", i, err)
		}
	}
	return sched, nil
}
