// Package cli fournit la ligne de commande vulcan: résolution et validation
// hors ligne de scénarios YAML, et interrogation d'un serveur.
package cli

import (
	"errors"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/buildinfo"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/config"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/logging"
)

type options struct {
	configPath string
	verbose    bool
	jsonOutput bool

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCommand construit l'arbre de commandes; la config est chargée avant
// chaque commande sauf version et help.
func NewRootCommand() *cobra.Command {
	o := &options{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "vulcan",
		Short: "Job-shop scheduling for the shop floor",
		Long: `Vulcan builds and checks production schedules.

Scenarios are YAML files describing machines, operators, jobs and a horizon.
They can be solved offline, validated against shop rules, or analysed for
critical sequences. The remote commands talk to a running vulcan-server.`,
		Version:       buildinfo.Current().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return o.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "config file (default ./config/vulcan.yaml or ./vulcan.yaml)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "verbose logging on stderr")
	root.PersistentFlags().BoolVar(&o.jsonOutput, "json", false, "print JSON instead of tables")

	root.AddCommand(newSolveCommand(o))
	root.AddCommand(newValidateCommand(o))
	root.AddCommand(newAnalyzeCommand(o))
	root.AddCommand(newRemoteCommand(o))
	root.AddCommand(newVersionCommand(o))
	return root
}

func (o *options) load(stderr io.Writer) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logCfg := config.LoggingConfig{Level: "warn", Format: "console"}
	if o.verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg, stderr, "vulcan")
	if err != nil {
		return err
	}
	o.cfg, o.logger = cfg, logger
	return nil
}

// Execute lance la ligne de commande avec les arguments du processus.
func Execute() error {
	return NewRootCommand().Execute()
}

func newVersionCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Current()
			if o.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			_, err := io.WriteString(cmd.OutOrStdout(), "vulcan "+info.Version+"\n")
			return err
		},
	}
}

// ExitCode: 1 quand la validation trouve des violations, 2 pour toute autre
// erreur.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errViolations):
		return 1
	default:
		return 2
	}
}
