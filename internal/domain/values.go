package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNegativeDuration  = errors.New("duration must be non-negative")
	ErrInvalidWindow     = errors.New("time window start must be before end")
	ErrInvalidSkillLevel = errors.New("skill level must be between 1 and 3")
)

const (
	MinSkillLevel = 1
	MaxSkillLevel = 3
)

// Duration est une durée non négative, en minutes entières.
type Duration int

func NewDuration(minutes int) (Duration, error) {
	if minutes < 0 {
		return 0, ErrNegativeDuration
	}
	return Duration(minutes), nil
}

// DurationOf arrondit une time.Duration à la minute supérieure.
func DurationOf(d time.Duration) Duration {
	if d <= 0 {
		return 0
	}
	return Duration(math.Ceil(d.Minutes()))
}

func (d Duration) Minutes() int { return int(d) }

func (d Duration) Std() time.Duration { return time.Duration(d) * time.Minute }

func (d Duration) Add(o Duration) Duration { return d + o }

func (d Duration) Sub(o Duration) (Duration, error) {
	if o > d {
		return 0, fmt.Errorf("%w: %d - %d", ErrNegativeDuration, d, o)
	}
	return d - o, nil
}

func (d Duration) Mul(f float64) Duration {
	if f <= 0 {
		return 0
	}
	return Duration(math.Ceil(float64(d) * f))
}

func (d Duration) Hours() float64 { return float64(d) / 60 }

func (d Duration) String() string {
	h, m := int(d)/60, int(d)%60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}

// TimeWindow est un intervalle semi-ouvert [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if !start.Before(end) {
		return TimeWindow{}, fmt.Errorf("%w: %s >= %s", ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeWindow{Start: start, End: end}, nil
}

func (w TimeWindow) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w TimeWindow) Contains(o TimeWindow) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

func (w TimeWindow) ContainsTime(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w TimeWindow) Duration() Duration {
	if !w.Start.Before(w.End) {
		return 0
	}
	return Duration(int(w.End.Sub(w.Start) / time.Minute))
}

// Intersection renvoie la partie commune, ou false si disjoints.
func (w TimeWindow) Intersection(o TimeWindow) (TimeWindow, bool) {
	if !w.Overlaps(o) {
		return TimeWindow{}, false
	}
	start, end := w.Start, w.End
	if o.Start.After(start) {
		start = o.Start
	}
	if o.End.Before(end) {
		end = o.End
	}
	return TimeWindow{Start: start, End: end}, true
}

type SkillRequirement struct {
	SkillType    string `json:"skillType" yaml:"skill"`
	MinimumLevel int    `json:"minimumLevel" yaml:"level"`
}

func NewSkillRequirement(skillType string, level int) (SkillRequirement, error) {
	if skillType == "" {
		return SkillRequirement{}, errors.New("skill type is required")
	}
	if level < MinSkillLevel || level > MaxSkillLevel {
		return SkillRequirement{}, fmt.Errorf("%w: %d", ErrInvalidSkillLevel, level)
	}
	return SkillRequirement{SkillType: skillType, MinimumLevel: level}, nil
}

func (r SkillRequirement) String() string {
	return fmt.Sprintf("%s level %d", r.SkillType, r.MinimumLevel)
}
