package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/telemetry"
)

func main() {
	log.SetFlags(0)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Load .env failed: %v", err)
	}

	cobra.CheckErr(newRootCmd().Execute())
}

type rootFlags struct {
	config    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "livequiz",
		Short: "Host or play a live multiple-choice quiz over TCP.",
		Args:  cobra.NoArgs,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", os.Getenv("CONFIG_PATH"), "config file (env: CONFIG_PATH)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error; overrides the config file")
	pf.StringVar(&f.logFormat, "log-format", "", "text or json; overrides the config file")

	cmd.AddCommand(newHostCmd(f), newPlayCmd(f))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SilenceUsage = true

	return cmd
}

// loadConfig fills c from the config file, if one is set, and LIVEQUIZ_* environment variables.
func (f *rootFlags) loadConfig(c any) error {
	if err := config.Load(f.config, c, config.WithEnvPrefix("LIVEQUIZ")); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func (f *rootFlags) setupLogger(c telemetry.LogConfig) error {
	if f.logLevel != "" {
		c.Level = f.logLevel
	}
	if f.logFormat != "" {
		c.Format = f.logFormat
	}
	return telemetry.SetupLogger(os.Stderr, c)
}
