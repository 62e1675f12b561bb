package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with all subcommands attached.
// Running stackctl with no arguments performs the start action.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	serveFlags := &ServeFlags{}
	historyFlags := &HistoryFlags{}

	stackctlCommand := command{global: globalFlags}

	root := createRootCommand(stackctlCommand, globalFlags)
	root.AddCommand(
		createStartCommand(stackctlCommand),
		createStopCommand(stackctlCommand),
		createRestartCommand(stackctlCommand),
		createStatusCommand(stackctlCommand, statusFlags),
		createTailscaleCommand(stackctlCommand),
		createHistoryCommand(stackctlCommand, historyFlags),
		createServeCommand(stackctlCommand, serveFlags),
	)
	return root
}

// createRootCommand creates the root command with persistent flags.
func createRootCommand(c command, flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Supervise the local service stack and publish it via tailscale serve",
		Long: `Stackctl starts, stops and monitors the fixed local service stack
(frontend, stack API, audio API) and registers their URL paths with the
tailscale reverse proxy so the stack is reachable from the tailnet.

Examples:
  stackctl                # same as 'stackctl start'
  stackctl status         # per-service liveness and proxy routes
  stackctl tailscale      # re-register proxy routes only
  stackctl serve          # run the local control API`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start()
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	return root
}

// createStartCommand creates the start subcommand.
func createStartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start all services and register proxy routes",
		Long: `Start the whole stack. Any previously running instances are terminated
first, each service is launched in order and verified against its port,
and the proxy routes are registered last. The first service that fails
to bind aborts the remaining launches and exits non-zero.

Examples:
  stackctl start
  stackctl start --config=stack.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start()
		},
	}
}

// createStopCommand creates the stop subcommand.
func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop all services and clear proxy routes",
		Long: `Terminate every recorded service process, sweep the fixed ports for
orphans, and clear the proxy routes. Every step is best-effort; stop
always exits zero.

Examples:
  stackctl stop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop()
		},
	}
}

// createRestartCommand creates the restart subcommand.
func createRestartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the whole stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart()
		},
	}
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(c command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-service liveness and proxy route state",
		Long: `Report whether each service's port has a listener, the proxy's current
route table, and the node's externally reachable URLs. Status reflects
the ports as they are right now, not the persisted PID list.

Examples:
  stackctl status
  stackctl status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print status as JSON")
	return cmd
}

// createTailscaleCommand creates the route-resync subcommand.
func createTailscaleCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "tailscale",
		Short: "Re-register proxy routes without touching services",
		Long: `Re-issue the tailscale serve route registrations for the configured
stack and report status. Useful to repair route state after a tailscale
reset without restarting the services. Always exits zero.

Examples:
  stackctl tailscale`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RouteSync()
		},
	}
}

// createHistoryCommand creates the history subcommand.
func createHistoryCommand(c command, flags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent supervisor actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(*flags)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 50, "maximum entries to show")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print history as JSON")
	return cmd
}

// createServeCommand creates the serve subcommand.
func createServeCommand(c command, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		Long: `Run a local HTTP API exposing the supervisor operations plus
Prometheus metrics. Intended for localhost only.

Examples:
  stackctl serve
  stackctl serve --listen=127.0.0.1:9090 --base-path=/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (default from config)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "URL prefix for API routes")
	return cmd
}
