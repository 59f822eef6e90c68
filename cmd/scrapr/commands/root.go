// Package commands implements the scrapr command line.
package commands

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/emilyzhang/scrapr/config"
	"github.com/emilyzhang/scrapr/logger"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	dsn        string
}

// Execute runs the scrapr command line.
func Execute() error {
	// .env is optional; variables already set win.
	_ = godotenv.Load()
	return NewRootCommand().ExecuteContext(context.Background())
}

// NewRootCommand builds the scrapr command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "scrapr",
		Short:         "Periodically scrape structured data from web resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath,
		"config file; the extension may be left out")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level (debug, info, warn, error); overrides log.level")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "",
		"database data source name; overrides database.dsn")

	root.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newSeenCommand(opts),
	)
	return root
}

// load reads the configuration and applies flag overrides.
func (o *options) load() (*config.Config, error) {
	v, err := config.NewViper(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		v.Set("log.level", o.logLevel)
	}
	if o.dsn != "" {
		v.Set("database.dsn", o.dsn)
	}
	return config.Load(v)
}

// newLogger builds the logger described by cfg.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("unable to create logger: %w", err)
	}
	return log, nil
}
