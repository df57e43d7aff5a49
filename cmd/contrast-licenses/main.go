package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/contrast-oss/license-exporter/internal/config"
	"github.com/contrast-oss/license-exporter/internal/environments"
	"github.com/contrast-oss/license-exporter/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// deps are the process collaborators, swapped out in tests.
type deps struct {
	clientFactory environments.ClientFactory
	stdin         io.Reader
	stdout        io.Writer
	getenv        func(string) string
	listen        func(network, address string) (net.Listener, error)
}

func defaultDeps() deps {
	return deps{
		clientFactory: environments.ContrastClientFactory,
		stdin:         os.Stdin,
		stdout:        os.Stdout,
		getenv:        os.Getenv,
		listen:        net.Listen,
	}
}

func newRootCmd(d deps) *cobra.Command {
	opts := config.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "contrast-licenses",
		Short: "Count licensed Contrast Assess applications across environments",
		Long: `contrast-licenses counts licensed Contrast Assess applications across one or more
TeamServer environments, de-duplicating them by name, language and metadata, and
exposes the counts as Prometheus metrics.

Without --prometheus-listen-port or --prometheus-push-gateway a single update is
performed and the process exits, which is useful to validate the configuration.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.ApplyEnv(d.getenv, func(name string) bool { return cmd.Flags().Changed(name) }); err != nil {
				return err
			}
			return run(cmd.Context(), opts, d)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigFile, "config-file", "c", opts.ConfigFile, "Path to JSON/YAML environment config or - to read it from stdin")
	flags.StringVar(&opts.EnvFile, "env-file", "", "Path to a .env file with secret overrides (default .env if present)")
	flags.IntVarP(&opts.UpdateInterval, "update-interval", "i", opts.UpdateInterval, "Minutes between polls of the configured environments. Only used with --prometheus-listen-port")
	flags.StringVarP(&opts.LogLevel, "log-level", "l", opts.LogLevel, "Log level (CRITICAL, ERROR, WARN, INFO, DEBUG)")
	flags.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format (auto, json, console)")
	flags.StringVar(&opts.LogFile, "log-file", "", "Also append logs to this file")
	flags.IntVarP(&opts.ListenPort, "prometheus-listen-port", "p", 0, "Port to serve metrics on")
	flags.StringVar(&opts.ListenAddress, "prometheus-listen-address", "", "Address to bind the metrics server to (default all interfaces)")
	flags.StringVarP(&opts.PushGateway, "prometheus-push-gateway", "u", "", "URL for a Prometheus push gateway where metrics will be sent")
	flags.StringVar(&opts.PushJob, "push-job", opts.PushJob, "Job name used when pushing to the gateway")
	flags.BoolVar(&opts.Dump, "dump", false, "Print the collected metrics to stdout when neither serving nor pushing")
	cmd.MarkFlagsMutuallyExclusive("prometheus-listen-port", "prometheus-push-gateway")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "contrast-licenses %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

// execute runs the root command and returns the process exit code. The
// terminal error is logged at fatal level so no --log-level hides it, and
// the log file is closed only after that line is written.
func execute(ctx context.Context, d deps, args []string) int {
	defer logging.Shutdown()

	cmd := newRootCmd(d)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("contrast-licenses failed")
		return 1
	}
	return 0
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, defaultDeps(), os.Args[1:])
	cancel()
	os.Exit(code)
}
