package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modhost"
	"github.com/spf13/cobra"
)

type transitionFunc func(ctx context.Context, name string, opts ...modhost.TransitionOption) (bool, error)

// then chains second after a successful first. first runs without its own
// recollect so the pair rebuilds collectors once.
func then(first, second transitionFunc) transitionFunc {
	return func(ctx context.Context, name string, opts ...modhost.TransitionOption) (bool, error) {
		ok, err := first(ctx, name, append(opts, modhost.WithRecollect(false))...)
		if err != nil || !ok {
			return ok, err
		}
		return second(ctx, name, opts...)
	}
}

// runTransitions applies op to every named module and reports each result.
// Unknown modules and refused transitions are reported and make the command
// fail after the remaining modules were tried.
func (c *CLI) runTransitions(cmd *cobra.Command, action string, names []string, op transitionFunc, opts ...modhost.TransitionOption) error {
	ctx := cmd.Context()
	var refused []string
	for _, name := range names {
		ok, err := op(ctx, name, opts...)
		switch {
		case errors.Is(err, modhost.ErrModuleNotFound):
			printError(cmd.ErrOrStderr(), c.message(ctx, "module.not_found", name))
			refused = append(refused, name)
		case err != nil:
			return err
		case !ok:
			printError(cmd.ErrOrStderr(), c.message(ctx, "module."+action+".failed", name))
			refused = append(refused, name)
		default:
			printSuccess(cmd.OutOrStdout(), c.message(ctx, "module."+action+".success", name))
		}
	}
	if len(refused) > 0 {
		return fmt.Errorf("%w: %s", ErrTransitionRefused, strings.Join(refused, ", "))
	}
	return nil
}

func (c *CLI) newInstallCommand() *cobra.Command {
	var recursive, enable bool
	cmd := &cobra.Command{
		Use:   "install <module>...",
		Short: "Install modules",
		Long: `Install one or more modules. With --recursive every dependency is installed
and enabled first; with --enable the module is enabled right after.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			op := transitionFunc(app.Install)
			if enable {
				op = then(app.Install, app.Enable)
			}
			return c.runTransitions(cmd, "install", args, op, modhost.WithRecursive(recursive))
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "install and enable dependencies first")
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the module after installing it")
	return cmd
}

func (c *CLI) newUninstallCommand() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "uninstall <module>...",
		Short: "Uninstall modules",
		Long: `Uninstall one or more modules. With --recursive every dependant is disabled
and uninstalled first and an enabled module is disabled before it is
uninstalled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			return c.runTransitions(cmd, "uninstall", args, app.Uninstall, modhost.WithRecursive(recursive))
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "disable and uninstall dependants first")
	return cmd
}

func (c *CLI) newEnableCommand() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "enable <module>...",
		Short: "Enable modules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			return c.runTransitions(cmd, "enable", args, app.Enable, modhost.WithRecursive(recursive))
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "install and enable dependencies first")
	return cmd
}

func (c *CLI) newDisableCommand() *cobra.Command {
	var recursive, uninstall bool
	cmd := &cobra.Command{
		Use:   "disable <module>...",
		Short: "Disable modules",
		Long: `Disable one or more modules. With --recursive every enabled dependant is
disabled first; with --uninstall the module is uninstalled right after.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			op := transitionFunc(app.Disable)
			if uninstall {
				op = then(app.Disable, app.Uninstall)
			}
			return c.runTransitions(cmd, "disable", args, op, modhost.WithRecursive(recursive))
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "disable enabled dependants first")
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "uninstall the module after disabling it")
	return cmd
}

func (c *CLI) newModulesCommand() *cobra.Command {
	var hidden bool
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List installed modules and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			mods, err := app.Modules(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styleHeader.Render(column("MODULE", 32)+column("STATE", 14)+"VERSION"))
			for _, m := range mods {
				if m.IsAppInstaller(ctx) && !hidden {
					continue
				}
				state, err := m.State(ctx)
				if err != nil {
					return err
				}
				version := ""
				if p, err := m.Package(ctx); err == nil {
					version = p.Version
				}
				fmt.Fprintln(out, column(m.Name(), 32)+stateStyles[state.String()].Render(column(state.String(), 14))+styleMuted.Render(version))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hidden, "hidden", false, "include application installer modules")
	return cmd
}

func (c *CLI) newSetupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Set up the application",
		Long: `Validate the module directory, install and enable every application
installer module with its dependencies, and mark the application as set up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			if app.IsSetUp(cmd.Context()) {
				printWarning(cmd.OutOrStdout(), c.message(cmd.Context(), "app.setup.success"))
				return nil
			}
			if err := app.Setup(cmd.Context()); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), c.message(cmd.Context(), "app.setup.success"))
			return nil
		},
	}
}

func (c *CLI) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check module requirements and dependency cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.application(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Directory().Validate(cmd.Context()); err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					printError(cmd.ErrOrStderr(), line)
				}
				return ErrInvalidModules
			}
			printSuccess(cmd.OutOrStdout(), "Module directory is valid")
			return nil
		},
	}
}
