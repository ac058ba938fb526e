package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	verbose         bool
	rosterPath      string
	credentialsPath string
	settingsPath    string
	templatePath    string
	outputDir       string
	rowPolicy       string
	timeout         time.Duration
	assumeYes       bool
	dryRun          bool

	logger *zap.Logger
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certmailer",
		Short: "Render personalised certificates and email them to a roster",
		Long: `certmailer reads a name,email roster, draws every name onto the
certificate template, saves the result under the output directory and sends
it to the recipient as an email attachment.

Rows are processed one at a time in roster order. A failed render or a
rejected recipient is reported in the summary and the batch goes on; an SMTP
authentication failure stops it.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logger != nil {
				return nil
			}
			config := zap.NewProductionConfig()
			if opts.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMailer(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&opts.rosterPath, "roster", "data.csv", "CSV file with name,email columns")
	flags.StringVar(&opts.credentialsPath, "credentials", "config.json", "JSON or YAML file with the SMTP account")
	flags.StringVar(&opts.settingsPath, "settings", "", "Optional JSON or YAML file with layout and message overrides")
	flags.StringVar(&opts.templatePath, "template", filepath.Join("certificates", "template.png"), "Certificate template image")
	flags.StringVar(&opts.outputDir, "output", "output", "Directory for rendered certificates")
	flags.StringVar(&opts.rowPolicy, "row-policy", string(RowPolicySkip), "What to do with a roster row missing name or email: skip or abort")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Dial and per-command SMTP timeout")
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "Do not ask for confirmation")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Render certificates without sending email")

	return cmd
}

func runMailer(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	runID := uuid.NewString()
	logger := opts.logger.With(zap.String("run_id", runID))

	policy, err := ParseRowPolicy(opts.rowPolicy)
	if err != nil {
		return err
	}
	if opts.timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}

	var creds Credentials
	if !opts.dryRun {
		if creds, err = LoadCredentials(opts.credentialsPath); err != nil {
			return err
		}
	}

	settings, err := LoadSettings(opts.settingsPath)
	if err != nil {
		return err
	}
	settingsSource := opts.settingsPath
	if settingsSource == "" {
		settingsSource = "default settings"
	}

	roster, err := LoadRoster(opts.rosterPath, policy, logger)
	if err != nil {
		return err
	}

	renderer, err := NewRenderer(opts.templatePath, opts.outputDir, settings.Layout)
	if err != nil {
		return &ConfigError{Path: settingsSource, Err: err}
	}
	defer renderer.Close()

	if _, err := renderer.LoadTemplate(); err != nil {
		return &ConfigError{Path: opts.templatePath, Err: err}
	}

	if len(roster.Recipients) == 0 {
		fmt.Fprintf(out, "No recipients found in %s. Exiting.\n", opts.rosterPath)
		return nil
	}

	if check, err := CheckDiskSpace(opts.outputDir, opts.templatePath, len(roster.Recipients)); err != nil {
		logger.Warn("cannot check free disk space", zap.Error(err))
	} else if !check.Enough() {
		logger.Warn("output volume may run out of space",
			zap.String("path", check.Path),
			zap.Uint64("free_bytes", check.Free),
			zap.Uint64("needed_bytes", check.Needed))
	}

	fmt.Fprintf(out, "Template: %s\n", opts.templatePath)
	fmt.Fprintf(out, "Recipients found: %d\n", len(roster.Recipients))
	fmt.Fprintf(out, "Output folder: %s\n", opts.outputDir)

	if !opts.assumeYes && !confirm(cmd) {
		fmt.Fprintln(out, "Aborted by user.")
		return nil
	}

	composer, err := NewComposer(settings.Message, creds.Organization)
	if err != nil {
		return &ConfigError{Path: settingsSource, Err: err}
	}

	var mailer Mailer
	if !opts.dryRun {
		stdMailer, err := NewStdMailer(creds, opts.timeout, logger)
		if err != nil {
			return &ConfigError{Path: opts.credentialsPath, Err: err}
		}
		mailer = stdMailer
	}

	driver := NewDriver(runID, renderer, composer, mailer, logger)
	summary, runErr := driver.Run(ctx, roster)
	summary.Report(out)
	logger.Info("batch finished",
		zap.Int("sent", summary.Sent()),
		zap.Int("failed", summary.Failed()),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Bool("aborted", summary.Aborted != nil))

	if runErr != nil && summary.Sent() == 0 {
		return runErr
	}
	return nil
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "Proceed to generate and send certificates? (yes/no) [no]: ")
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&options{}).ExecuteContext(ctx); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "Check the file and run again.")
		}
		stop()
		os.Exit(1)
	}
}
