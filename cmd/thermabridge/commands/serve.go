package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richinsley/thermabridge"
	"github.com/richinsley/thermabridge/internal/config"
	"github.com/richinsley/thermabridge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	serveCreate bool
	serveEcho   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a headless interpreter on a shared segment",
	Long: `Open (or create) a shared segment and serve requests from the other peer
with a headless namespace until interrupted.

The namespace understands one command per line:

  name = <yaml value>
  del name
  print <yaml value|name>
  sleep <duration>
  raise Name: message

It also exposes the functions echo, names, sum and segments to SH_EXEC_FUN
callers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveCreate, "create", false, "Fail if the segment already exists")
	serveCmd.Flags().BoolVar(&serveEcho, "echo", false, "Write print output to stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveCreate {
		cfg.Bridge.Mode = thermabridge.ModeCreate
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var nsOpts []thermabridge.NamespaceOption
	if serveEcho {
		nsOpts = append(nsOpts, thermabridge.WithOutput(os.Stdout))
	}
	ns := thermabridge.NewNamespace(nsOpts...)
	if err := seedNamespace(ns, cfg.Serve); err != nil {
		return printer.Error("Invalid serve configuration", err.Error(), nil)
	}

	funcs := thermabridge.NewFunctions()
	registerBuiltins(funcs, ns)

	printer.Step("Opening segment %s...\n", orDefault(cfg.Bridge.Segment, cfg.Bridge.Prefix+"-N"))
	sess, err := thermabridge.NewSession(ctx, cfg.Bridge, ns, thermabridge.WithFunctions(funcs))
	if err != nil {
		return printer.ErrorWithContext(
			"Cannot open segment",
			err.Error(),
			map[string]string{"Mode": cfg.Bridge.Mode},
			[]string{
				"Use another name with --segment",
				"Drop --create to attach to an existing segment",
			},
		)
	}
	defer sess.Close()

	if cfg.Serve != nil && cfg.Serve.Startup != "" {
		printer.Step("Running startup script...\n")
		if err := ns.Execute(cfg.Serve.Startup); err != nil {
			printer.Warning("startup script failed: %v\n", err)
		}
	}

	printer.Success("Serving %s (session %s). Press Ctrl+C to stop.\n", sess.Name(), sess.ID())
	<-ctx.Done()
	printer.Step("Shutting down...\n")
	if err := sess.Close(); err != nil {
		return printer.Error("Shutdown failed", err.Error(), nil)
	}
	printer.Success("Detached from %s\n", sess.Name())
	return nil
}

// seedNamespace binds the configured variables and style sheet.
func seedNamespace(ns *thermabridge.Namespace, serve *config.ServeConfig) error {
	if serve == nil {
		return nil
	}
	values := make(map[string]thermabridge.Value, len(serve.Variables))
	for name, raw := range serve.Variables {
		v := thermabridge.FromGo(raw)
		if v == nil {
			return fmt.Errorf("variable %s: unsupported value %v", name, raw)
		}
		values[name] = v
	}
	if err := ns.Push(values); err != nil {
		return err
	}
	return ns.SetStyleSheet(serve.StyleSheet)
}

// registerBuiltins exposes a few functions so clients can exercise SH_EXEC_FUN
// against a headless host.
func registerBuiltins(funcs *thermabridge.Functions, ns *thermabridge.Namespace) {
	funcs.Register("echo", func(args thermabridge.List, kwargs thermabridge.Mapping) (thermabridge.Value, error) {
		if len(kwargs) == 0 && len(args) == 1 {
			return args[0], nil
		}
		return thermabridge.List{args, kwargs}, nil
	})
	funcs.Register("names", func(args thermabridge.List, kwargs thermabridge.Mapping) (thermabridge.Value, error) {
		return thermabridge.FromGo(ns.Names()), nil
	})
	funcs.Register("segments", func(args thermabridge.List, kwargs thermabridge.Mapping) (thermabridge.Value, error) {
		names, err := thermabridge.ListSegments()
		if err != nil {
			return nil, err
		}
		return thermabridge.FromGo(names), nil
	})
	funcs.Register("sum", sum)
}

func sum(args thermabridge.List, kwargs thermabridge.Mapping) (thermabridge.Value, error) {
	var (
		total   float64
		isFloat bool
		whole   int64
	)
	for i, a := range args {
		switch v := a.(type) {
		case thermabridge.Int:
			whole += int64(v)
			total += float64(v)
		case thermabridge.Float:
			isFloat = true
			total += float64(v)
		default:
			return nil, fmt.Errorf("argument %d is %v, not a number", i, a.Kind())
		}
	}
	if isFloat {
		return thermabridge.Float(total), nil
	}
	return thermabridge.Int(whole), nil
}
