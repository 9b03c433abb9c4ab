package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richinsley/thermabridge"
	"github.com/richinsley/thermabridge/internal/config"
	"github.com/richinsley/thermabridge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath  string
	segmentName string
	timeout     time.Duration
	debug       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "thermabridge",
	Short: "Thermabridge - shared-memory bridge to a Thermavip host",
	Long: `Thermabridge talks to a Thermavip host over its shared-memory segment.

It can serve a headless interpreter in place of the host (serve), drive the
host's interpreter (exec, line, push, pull, restart), call the functions the
host exposes (call) and inspect segments (status, names).`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./thermabridge.yml when present)")
	rootCmd.PersistentFlags().StringVarP(&segmentName, "segment", "s", "", "Shared segment name")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Bound on each request (0 waits until interrupted)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log every message")
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig() (*config.FileConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"Invalid configuration",
			err.Error(),
			[]string{"Fix the file passed with --config, or remove ./thermabridge.yml to use defaults"},
		)
	}
	if segmentName != "" {
		cfg.Bridge.Segment = segmentName
	}
	if debug {
		cfg.Bridge.Debug = true
	}
	thermabridge.SetDebug(cfg.Bridge.Debug)
	return cfg, nil
}

// requestContext bounds a request by --timeout.
func requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// targetSegment picks the segment a client command talks to: the configured
// name, else the first segment carrying the configured prefix.
func targetSegment(cfg *config.FileConfig) (string, error) {
	if cfg.Bridge.Segment != "" {
		return cfg.Bridge.Segment, nil
	}
	names, err := thermabridge.ListSegments()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if hasPrefix(name, cfg.Bridge.Prefix) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no segment named %s-N", thermabridge.ErrNotConnected, cfg.Bridge.Prefix)
}

func hasPrefix(name, prefix string) bool {
	return len(name) > len(prefix)+1 && name[:len(prefix)] == prefix && name[len(prefix)] == '-'
}

// dial attaches to the host's segment and reports failures the way the other
// commands do.
func dial(cfg *config.FileConfig) (*thermabridge.RPCClient, error) {
	name, err := targetSegment(cfg)
	if err == nil {
		var rpc *thermabridge.RPCClient
		rpc, err = thermabridge.Dial(name,
			thermabridge.WithTimeout(cfg.Bridge.Timeout),
			thermabridge.WithPollInterval(cfg.Bridge.PollInterval),
		)
		if err == nil {
			return rpc, nil
		}
	}
	return nil, printer.ErrorWithContext(
		"Cannot connect to host",
		err.Error(),
		map[string]string{"Segment": orDefault(name, cfg.Bridge.Prefix+"-N")},
		[]string{
			"Start the host, or run 'thermabridge serve' in another terminal",
			"Pass the segment name with --segment (see 'thermabridge names')",
		},
	)
}

// requestFailed turns a request error into the CLI's formatted output.
func requestFailed(what string, err error) error {
	if rerr, ok := thermabridge.IsRemoteError(err); ok {
		printer.Trace(rerr.Traceback)
		return printer.Error(fmt.Sprintf("%s failed on the host", what), rerr.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return printer.Error(fmt.Sprintf("%s timed out", what), err.Error(),
			[]string{"Raise --timeout, or pass --timeout 0 to wait until interrupted"})
	}
	return printer.Error(fmt.Sprintf("%s failed", what), err.Error(), nil)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
