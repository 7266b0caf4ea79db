// Package cli implements newsletterctl, the operator command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/config"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for newsletterctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "newsletterctl",
		Short: "Operate the newsletter service",
		Long: `Operator tooling for the newsletter service: inspect idempotency
claims that never completed and manage admin accounts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration file (default $NEWSLETTER_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewClaimsCommand(opts))
	cmd.AddCommand(NewAdminCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig loads configuration and sends logs to stderr so they never mix
// with command output.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(config.Path(opts.ConfigPath))
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	log.InitStructureLogConfig(log.Options{Level: cfg.Log.Level, Output: os.Stderr})
	return cfg, nil
}
