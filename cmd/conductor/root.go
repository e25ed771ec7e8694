package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"conductor/internal/config"
)

const defaultConfigFile = "conductor.yaml"

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Conductor runs end-to-end scenarios through an actor DSL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	pf := root.PersistentFlags()
	pf.StringP("config", "c", defaultConfigFile, "path to conductor.yaml")
	pf.String("log-level", "warn", "log level: debug | info | warn | error")
	pf.String("log-format", "text", "log format: text | json")
	bindFlags(v, pf, "config", "log-level", "log-format")

	root.AddCommand(newRunCmd(v), newListCmd(v), newRunsCmd(v), newVersionCmd())
	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bindFlag %q: %v", name, err))
		}
	}
}

// bindLocalFlags binds the running command's own flags. Subcommands share
// keys such as grep and store, so binding happens only for the one executed.
func bindLocalFlags(v *viper.Viper) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return v.BindPFlags(cmd.LocalNonPersistentFlags())
	}
}

// loadConfig reads the configured file and returns it with the directory test
// globs resolve against. A missing default file yields the defaults.
func loadConfig(v *viper.Viper) (*config.Config, string, error) {
	path := v.GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !v.IsSet("config") {
			wd, _ := os.Getwd()
			return config.Default(), wd, nil
		}
		return nil, "", err
	}
	return cfg, filepath.Dir(path), nil
}

func buildLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch format := v.GetString("log-format"); format {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log-format must be text or json, got %q", format)
	}
	return slog.New(h).With(slog.String("service", "conductor")), nil
}

func usageError(err error) error {
	return &exitError{code: ExitError, err: err}
}
