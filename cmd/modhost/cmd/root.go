package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/extension"
	"github.com/GoCodeAlone/modhost/feeders"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// EnvPrefix prefixes the environment variables read into the configuration.
const EnvPrefix = "MODHOST"

var (
	ErrTransitionRefused = errors.New("module transition refused")
	ErrRecollectFailed   = errors.New("collectors could not be rebuilt")
	ErrInvalidModules    = errors.New("module directory is invalid")
)

// CLI holds the state shared by the modhost commands. The application is
// opened on first use and closed when Execute returns.
type CLI struct {
	out     io.Writer
	errOut  io.Writer
	appOpts []modhost.Option

	cfgFile string
	verbose bool

	config *modhost.AppConfig
	app    *modhost.Application
}

// Option configures a CLI.
type Option func(*CLI)

// WithOutput redirects command output and diagnostics.
func WithOutput(out, errOut io.Writer) Option {
	return func(c *CLI) {
		c.out = out
		c.errOut = errOut
	}
}

// WithApplicationOptions adds options applied after the loaded
// configuration when the application is opened.
func WithApplicationOptions(opts ...modhost.Option) Option {
	return func(c *CLI) {
		c.appOpts = append(c.appOpts, opts...)
	}
}

// New creates a CLI writing to stdout and stderr.
func New(opts ...Option) *CLI {
	c := &CLI{out: os.Stdout, errOut: os.Stderr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRootCommand creates the root command with every built-in subcommand.
func (c *CLI) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "modhost",
		Short: "Manage modules and collectors of a modhost application",
		Long: `modhost installs, enables, disables and uninstalls modules while keeping
their dependencies consistent, and inspects the collectors built from the
contributions of enabled modules.`,
		Version:       fmt.Sprintf("%s (commit: %s, built on: %s)", Version, Commit, Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default .modhost.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(c.newInstallCommand())
	root.AddCommand(c.newUninstallCommand())
	root.AddCommand(c.newEnableCommand())
	root.AddCommand(c.newDisableCommand())
	root.AddCommand(c.newModulesCommand())
	root.AddCommand(c.newSetupCommand())
	root.AddCommand(c.newValidateCommand())
	root.AddCommand(c.newCollectorsCommand())
	root.AddCommand(c.newCollectCommand())
	root.AddCommand(c.newRecollectCommand())
	root.AddCommand(c.newWatchCommand())
	return root
}

// Execute runs the command line args. Commands contributed by enabled
// modules are attached to the root command first.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	defer c.close(ctx)

	root := c.NewRootCommand()
	c.cfgFile, c.verbose = preparse(args)
	if app, err := c.application(ctx); err != nil {
		c.logger().Debug("Module commands unavailable", "error", err)
	} else if cmds, err := app.Commands(ctx); err != nil {
		c.logger().Warn("Failed to collect module commands", "error", err)
	} else {
		set := extension.NewCommands()
		set.Add(cmds...)
		set.AttachTo(root)
	}

	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// preparse finds the persistent flags before cobra parses the command line,
// so the application can be opened to attach module commands.
func preparse(args []string) (cfgFile string, verbose bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return cfgFile, verbose
		case a == "--config" && i+1 < len(args):
			cfgFile = args[i+1]
			i++
		case strings.HasPrefix(a, "--config="):
			cfgFile = strings.TrimPrefix(a, "--config=")
		case a == "-v" || a == "--verbose":
			verbose = true
		}
	}
	return cfgFile, verbose
}

func (c *CLI) logger() *slog.Logger {
	level := charmlog.WarnLevel
	if c.verbose {
		level = charmlog.DebugLevel
	}
	handler := charmlog.NewWithOptions(c.errOut, charmlog.Options{
		Prefix:          "modhost",
		Level:           level,
		ReportTimestamp: c.verbose,
	})
	return slog.New(handler)
}

// loadConfig reads the config file with viper, then applies MODHOST_*
// environment variables.
func (c *CLI) loadConfig() (*modhost.AppConfig, error) {
	if c.config != nil {
		return c.config, nil
	}

	v := viper.New()
	if c.cfgFile != "" {
		v.SetConfigFile(c.cfgFile)
	} else {
		v.SetConfigName(".modhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := modhost.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := modhost.LoadConfig(cfg, feeders.NewEnvFeeder(EnvPrefix)); err != nil {
		return nil, err
	}
	c.config = cfg
	return cfg, nil
}

func (c *CLI) application(ctx context.Context) (*modhost.Application, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	opts := append([]modhost.Option{modhost.WithConfig(cfg), modhost.WithLogger(c.logger())}, c.appOpts...)
	app, err := modhost.NewApplication(ctx, opts...)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

// setUpApplication opens the application and fails when it has not been
// set up yet.
func (c *CLI) setUpApplication(cmd *cobra.Command) (*modhost.Application, error) {
	app, err := c.application(cmd.Context())
	if err != nil {
		return nil, err
	}
	if !app.IsSetUp(cmd.Context()) {
		printError(cmd.ErrOrStderr(), c.message(cmd.Context(), "app.not_set_up"))
		return nil, modhost.ErrApplicationNotSetUp
	}
	return app, nil
}

// message translates key in the configured locale.
func (c *CLI) message(ctx context.Context, key string, args ...any) string {
	if c.app == nil {
		return key
	}
	tr, err := c.app.Translator(ctx)
	if err != nil {
		c.logger().Warn("Failed to build translator", "error", err)
		if len(args) > 0 {
			return key + ": " + fmt.Sprint(args...)
		}
		return key
	}
	return tr.T(c.app.Config().Locale, key, args...)
}

func (c *CLI) close(ctx context.Context) {
	if c.app == nil {
		return
	}
	if err := c.app.Close(ctx); err != nil {
		c.logger().Warn("Failed to close application", "error", err)
	}
	c.app = nil
}
