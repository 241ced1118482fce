// Command modelbuilder generates all-sky point sets and builds pointing
// models against a simulated observatory.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/skymodel/internal/config"
	"github.com/signalsfoundry/skymodel/internal/horizon"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	v      *viper.Viper
	log    logging.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "modelbuilder",
		Short: "Build telescope pointing models from generated all-sky point sets.",
		Long: `modelbuilder generates golden-spiral, auto-grid and sidereal-path point sets
for an observatory profile and runs model builds against simulated equipment.

Every flag can also be set through the environment, e.g. MODELBUILDER_LOG_LEVEL=debug.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "observatory profile (default is "+config.DefaultPath+")")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.Float64("latitude", 0, "override the profile site latitude in degrees")
	pf.Float64("longitude", 0, "override the profile site longitude in degrees")

	root.AddCommand(a.newGenerateCmd(), a.newBuildCmd())
	return root
}

// initConfig binds the flags of the command being run so MODELBUILDER_*
// variables can stand in for any of them.
func (a *app) initConfig(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("MODELBUILDER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	level, err := logging.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	cfg := logging.Config{Level: level, Output: a.stderr}
	switch format := a.v.GetString("log-format"); format {
	case "text", "":
	case "json":
		cfg.JSON = true
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	a.log = logging.New(cfg)
	return nil
}

func (a *app) logger() logging.Logger {
	if a.log == nil {
		return logging.Noop()
	}
	return a.log
}

// loadProfile reads the profile named by --config. Without --config the
// default path is used when it exists and built-in defaults otherwise.
func (a *app) loadProfile() (*config.Profile, error) {
	path := a.v.GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath
	}

	var p *config.Profile
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(expanded); !explicit && errors.Is(statErr, os.ErrNotExist) {
		def := config.Default(model.Site{})
		p = &def
	} else {
		if p, err = config.Load(expanded); err != nil {
			return nil, err
		}
	}

	overridden := false
	if a.v.IsSet("latitude") {
		p.Site.Latitude = a.v.GetFloat64("latitude")
		overridden = true
	}
	if a.v.IsSet("longitude") {
		p.Site.Longitude = a.v.GetFloat64("longitude")
		overridden = true
	}
	if overridden {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func loadHorizon(p *config.Profile) (horizon.Model, error) {
	if p.HorizonFile == "" {
		return horizon.Flat(0), nil
	}
	hz, err := horizon.LoadFile(p.HorizonFile)
	if err != nil {
		return nil, fmt.Errorf("load horizon %s: %w", p.HorizonFile, err)
	}
	return hz, nil
}
