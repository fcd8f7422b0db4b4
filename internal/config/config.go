// Package config charge la configuration (fichier YAML optionnel + variables
// d'environnement VULCAN_*).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
)

const EnvPrefix = "VULCAN"

type Config struct {
	Server     ServerConfig           `mapstructure:"server"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Logging    LoggingConfig          `mapstructure:"logging"`
	Calendar   CalendarConfig         `mapstructure:"calendar"`
	Rules      RulesConfig            `mapstructure:"rules"`
	Solver     engine.Config          `mapstructure:"solver"`
	Allocation allocation.Preferences `mapstructure:"allocation"`
	Scheduling SchedulingConfig       `mapstructure:"scheduling"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CalendarConfig: heures par jour ("monday": "07:00-16:00"), pause déjeuner
// ("" pour aucune) et jours fériés au format 2006-01-02.
type CalendarConfig struct {
	Timezone string            `mapstructure:"timezone" yaml:"timezone"`
	Hours    map[string]string `mapstructure:"hours" yaml:"hours"`
	Lunch    string            `mapstructure:"lunch" yaml:"lunch"`
	Holidays []string          `mapstructure:"holidays" yaml:"holidays"`
}

type RulesConfig struct {
	WIPZones          []domain.WIPZone              `mapstructure:"wip_zones" yaml:"wip_zones"`
	CriticalSequences []domain.CriticalSequenceRule `mapstructure:"critical_sequences" yaml:"critical_sequences"`
}

type SchedulingConfig struct {
	MaxConcurrentSolves int           `mapstructure:"max_concurrent_solves"`
	DueCheckInterval    time.Duration `mapstructure:"due_check_interval"`
	DueSoonLookahead    time.Duration `mapstructure:"due_soon_lookahead"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "vulcan.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("calendar.timezone", "UTC")
	v.SetDefault("calendar.lunch", "12:00-12:30")

	solver := engine.DefaultConfig()
	v.SetDefault("solver.time_budget", solver.TimeBudget)
	v.SetDefault("solver.phase2_budget", solver.Phase2Budget)
	v.SetDefault("solver.workers", solver.Workers)
	v.SetDefault("solver.seed", solver.Seed)
	v.SetDefault("solver.max_iterations", solver.MaxIterations)
	v.SetDefault("solver.phase2_tolerance", solver.Phase2Tolerance)
	v.SetDefault("solver.skip_phase2", solver.SkipPhase2)

	prefs := allocation.DefaultPreferences()
	v.SetDefault("allocation.prefer_lowest_cost", prefs.PreferLowestCost)
	v.SetDefault("allocation.prefer_highest_skill", prefs.PreferHighestSkill)
	v.SetDefault("allocation.load_balancing", prefs.LoadBalancing)

	v.SetDefault("scheduling.max_concurrent_solves", 2)
	v.SetDefault("scheduling.due_check_interval", time.Minute)
	v.SetDefault("scheduling.due_soon_lookahead", 24*time.Hour)
}

// Load lit configPath s'il est fourni, sinon cherche vulcan.yaml dans ./config
// puis dans le répertoire courant. Les variables VULCAN_* priment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("vulcan")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, err := cfg.BusinessRules(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BusinessRules construit le calendrier et les règles atelier configurés.
func (c Config) BusinessRules() (domain.BusinessRules, error) {
	cal, err := c.Calendar.Build()
	if err != nil {
		return domain.BusinessRules{}, err
	}
	rules := domain.BusinessRules{
		Calendar:          cal,
		WIPZones:          c.Rules.WIPZones,
		CriticalSequences: c.Rules.CriticalSequences,
	}
	if err := rules.Validate(); err != nil {
		return domain.BusinessRules{}, fmt.Errorf("config rules: %w", err)
	}
	return rules, nil
}

// Appliqué seulement si aucune heure n'est configurée: viper fusionnerait
// sinon les jours par défaut avec ceux du fichier.
var defaultHours = map[string]string{
	"monday": "07:00-16:00", "tuesday": "07:00-16:00", "wednesday": "07:00-16:00",
	"thursday": "07:00-16:00", "friday": "07:00-16:00",
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// Build construit le calendrier métier décrit.
func (c CalendarConfig) Build() (domain.BusinessCalendar, error) {
	cal := domain.BusinessCalendar{Hours: map[time.Weekday]domain.ClockRange{}, Holidays: map[string]struct{}{}}

	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return cal, fmt.Errorf("calendar timezone: %w", err)
		}
		loc = l
	}
	cal.Location = loc

	hours := c.Hours
	if len(hours) == 0 {
		hours = defaultHours
	}
	for day, span := range hours {
		wd, ok := weekdays[strings.ToLower(day)]
		if !ok {
			return cal, fmt.Errorf("calendar hours: unknown weekday %q", day)
		}
		r, err := ParseClockRange(span)
		if err != nil {
			return cal, fmt.Errorf("calendar hours %s: %w", day, err)
		}
		cal.Hours[wd] = r
	}
	if strings.TrimSpace(c.Lunch) != "" {
		r, err := ParseClockRange(c.Lunch)
		if err != nil {
			return cal, fmt.Errorf("calendar lunch: %w", err)
		}
		cal.Lunch = &r
	}
	for _, h := range c.Holidays {
		day, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return cal, fmt.Errorf("calendar holiday %q: %w", h, err)
		}
		cal.AddHoliday(day)
	}
	return cal, nil
}

// ParseClockRange accepte "HH:MM-HH:MM".
func ParseClockRange(s string) (domain.ClockRange, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return domain.ClockRange{}, fmt.Errorf("invalid clock range %q", s)
	}
	start, err := domain.ParseClock(strings.TrimSpace(from))
	if err != nil {
		return domain.ClockRange{}, err
	}
	end, err := domain.ParseClock(strings.TrimSpace(to))
	if err != nil {
		return domain.ClockRange{}, err
	}
	r := domain.ClockRange{Start: start, End: end}
	if !r.Valid() {
		return domain.ClockRange{}, fmt.Errorf("clock range %q ends before it starts", s)
	}
	return r, nil
}
