package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/modhost"
	"github.com/spf13/cobra"
)

func (c *CLI) newCollectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collectors",
		Short: "List the active collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			infos, err := app.Collectors().Collectors(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styleHeader.Render(column("COLLECTOR", 18)+column("TYPE", 32)+"DESCRIPTION"))
			for _, info := range infos {
				desc := info.Description
				if info.Builtin {
					desc = styleMuted.Render("[builtin] ") + desc
				}
				fmt.Fprintln(out, column(info.Name, 18)+column(info.Type, 32)+desc)
			}
			return nil
		},
	}
}

func (c *CLI) newCollectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collect <collector>",
		Short: "Build one collector and print its aggregation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			v, err := app.Collectors().Collect(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func (c *CLI) newRecollectCommand() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "recollect",
		Short: "Clear the collector cache and rebuild every collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			if !app.Recollect(cmd.Context(), fresh) {
				printError(cmd.ErrOrStderr(), c.message(cmd.Context(), "collect.failed"))
				return ErrRecollectFailed
			}
			printSuccess(cmd.OutOrStdout(), c.message(cmd.Context(), "collect.success"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "re-read the collector table and drop derived services")
	return cmd
}

func (c *CLI) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rebuild collectors whenever package metadata changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.setUpApplication(cmd)
			if err != nil {
				return err
			}
			w, err := modhost.NewWatcher(app)
			if err != nil {
				return err
			}
			w.OnReload = func(ok bool) {
				if ok {
					printSuccess(cmd.OutOrStdout(), c.message(cmd.Context(), "collect.success"))
					return
				}
				printError(cmd.ErrOrStderr(), c.message(cmd.Context(), "collect.failed"))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			printWarning(cmd.OutOrStdout(), "Watching package metadata, press Ctrl+C to stop")
			return w.Run(ctx)
		},
	}
}
