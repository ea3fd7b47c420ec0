// Package cli implements jobctl, a command-line client for the job API.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/recogito/studio-jobs/internal/runner"
)

// app carries per-invocation state so commands can be built more than once in tests
type app struct {
	v       *viper.Viper
	out     io.Writer
	errOut  io.Writer
	cfgFile string
	verbose bool
}

// Execute runs jobctl against the process's stdio
func Execute() error {
	return NewRootCmd(os.Stdout, os.Stderr).Execute()
}

// NewRootCmd builds the command tree. Settings resolve flag > JOBCTL_* env > config file.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "jobctl",
		Short: "Create, run and inspect project export and import jobs",
		Long: `jobctl talks to the job API with a session token.

Quick start:
  jobctl token --user u-1                       Issue a development token
  jobctl export p-1 --out project.zip           Export a project and download it
  jobctl import project.zip                     Import a previously exported project
  jobctl list --status processing               Show running jobs`,
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return a.initConfig() },
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $HOME/.jobctl.yaml)")
	flags.String("api-url", "http://localhost:8080", "job API base URL")
	flags.String("token", "", "session token")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	_ = a.v.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = a.v.BindPFlag("token", flags.Lookup("token"))

	root.AddCommand(
		a.newCreateCmd(),
		a.newRunCmd(),
		a.newExportCmd(),
		a.newImportCmd(),
		a.newStatusCmd(),
		a.newListCmd(),
		a.newDeleteCmd(),
		a.newTokenCmd(),
	)
	return root
}

func (a *app) initConfig() error {
	a.v.SetEnvPrefix("JOBCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	a.v.SetConfigName(".jobctl")
	a.v.SetConfigType("yaml")
	a.v.AddConfigPath("$HOME")
	a.v.AddConfigPath(".")
	// the default config file is optional
	_ = a.v.ReadInConfig()
	return nil
}

func (a *app) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(a.errOut, &tint.Options{Level: level, NoColor: true}))
}

func (a *app) client() *runner.Client {
	return runner.New(runner.Config{
		BaseURL: a.v.GetString("api_url"),
		Tokens:  runner.StaticToken(a.v.GetString("token")),
		Logger:  a.logger(),
	})
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
