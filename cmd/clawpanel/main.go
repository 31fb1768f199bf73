package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	clawCommand := command{globals: globalFlags, out: os.Stdout}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(clawCommand, &ServeFlags{}),
		createStatusCommand(clawCommand, &StatusFlags{}),
		createStartCommand(clawCommand, &OpFlags{}),
		createStopCommand(clawCommand, &OpFlags{}),
		createWatchCommand(clawCommand, &WatchFlags{}),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "clawpanel",
		Short: "Supervisor for the gateway, bridge and tunnel",
		Long: `Clawpanel watches the gateway, the bridge and the tunnel agent, and starts
or stops all three in order, locally or through a running daemon.

Examples:
  clawpanel serve                   # Poll services and serve the API
  clawpanel status                  # Probe once and print the snapshot
  clawpanel start                   # Start whatever is down
  clawpanel stop --api-url=http://127.0.0.1:8787/api  # Stop via daemon`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(clawCommand command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the HTTP API",
		Long: `Run the background poller and serve the HTTP API until SIGINT or SIGTERM.

Examples:
  clawpanel serve
  clawpanel serve --listen=0.0.0.0:8787 --start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clawCommand.Serve(*f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "override server.listen")
	cmd.Flags().BoolVar(&f.StartOnBoot, "start", false, "run the start sequence once the API is up")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(clawCommand command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show the status of the gateway, the bridge and the tunnel.

Examples:
  clawpanel status                  # Probe locally
  clawpanel status --service=tunnel # Single service
  clawpanel status --api-url=http://127.0.0.1:8787/api --refresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clawCommand.Status(*f)
		},
	}
	cmd.Flags().StringVar(&f.Service, "service", "", "service name (optional)")
	cmd.Flags().BoolVar(&f.Refresh, "refresh", false, "ask the daemon to probe before answering")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8787/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(clawCommand command, f *OpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start every service that is down",
		Long: `Start the gateway, the bridge and the tunnel in that order, skipping the
ones already up and waiting each one's settle delay.

Examples:
  clawpanel start
  clawpanel start --api-url=http://127.0.0.1:8787/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clawCommand.Start(*f)
		},
	}
	addOpFlags(cmd, f)
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(clawCommand command, f *OpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop every service",
		Long: `Terminate the tunnel, the bridge and the gateway together with their
child processes.

Examples:
  clawpanel stop
  clawpanel stop --api-url=http://127.0.0.1:8787/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clawCommand.Stop(*f)
		},
	}
	addOpFlags(cmd, f)
	return cmd
}

// createWatchCommand creates the watch subcommand
func createWatchCommand(clawCommand command, f *WatchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print status periodically",
		Long: `Print a status snapshot every interval until interrupted.

Examples:
  clawpanel watch --interval=2s
  clawpanel watch --api-url=http://127.0.0.1:8787/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clawCommand.Watch(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Interval, "interval", 5*time.Second, "time between snapshots")
	cmd.Flags().IntVar(&f.Count, "count", 0, "stop after this many snapshots (0 = until interrupted)")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8787/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func addOpFlags(cmd *cobra.Command, f *OpFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8787/api)")
	// start waits for every settle delay, so the default exceeds their sum
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 60*time.Second, "request timeout")
}
