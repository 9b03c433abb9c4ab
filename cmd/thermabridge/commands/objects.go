package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/thermabridge"
	"github.com/richinsley/thermabridge/internal/printer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	pushFile string
	pullOut  string
	callKw   []string
)

var pushCmd = &cobra.Command{
	Use:   "push <name> [yaml value]",
	Short: "Bind a value in the host's interpreter",
	Long: `Bind name to a value in the host's interpreter.

The value is a YAML literal, e.g. '[1, 2.5, "a"]' or '{gain: 2}', or a file
given with --file (as written by 'pull --out'). Files ending in .msgpack hold
MessagePack; any other file holds the segment's binary value format.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull <name>",
	Short: "Fetch a value from the host's interpreter",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

var callCmd = &cobra.Command{
	Use:   "call <function> [yaml args...]",
	Short: "Call a function exposed by the host",
	Long: `Call a function registered on the host.

Positional arguments are YAML literals. Keyword arguments are given with
--kw key=<yaml value>, once per argument.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	pushCmd.Flags().StringVarP(&pushFile, "file", "f", "", "File holding the value (.msgpack or binary value format)")
	pullCmd.Flags().StringVarP(&pullOut, "out", "o", "", "Write the value to a file instead of stdout (.msgpack or binary value format)")
	callCmd.Flags().StringArrayVar(&callKw, "kw", nil, "Keyword argument as key=<yaml value>")

	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(callCmd)
}

// serializerFor picks the file format from the extension of path.
func serializerFor(path string) thermabridge.Serializer {
	if strings.EqualFold(filepath.Ext(path), ".msgpack") {
		return thermabridge.MsgpackSerializer{}
	}
	return thermabridge.CodecSerializer{}
}

// parseValue reads a YAML literal as a Value.
func parseValue(literal string) (thermabridge.Value, error) {
	var out interface{}
	if err := yaml.Unmarshal([]byte(literal), &out); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", literal, err)
	}
	v := thermabridge.FromGo(out)
	if v == nil {
		return nil, fmt.Errorf("unsupported value %q", literal)
	}
	return v, nil
}

func runPush(cmd *cobra.Command, args []string) error {
	var (
		v   thermabridge.Value
		err error
	)
	switch {
	case pushFile != "" && len(args) == 2:
		return printer.Error("Too many values", "Pass either a literal or --file, not both.", nil)
	case pushFile != "":
		var data []byte
		data, err = os.ReadFile(pushFile)
		if err == nil {
			err = serializerFor(pushFile).Unmarshal(data, &v)
		}
	case len(args) == 2:
		v, err = parseValue(args[1])
	default:
		return printer.Error("Nothing to push", "No value was given.", []string{
			"Pass a YAML literal after the name",
			"Pass a file written by 'pull --out' with --file",
		})
	}
	if err != nil {
		return printer.Error("Invalid value", err.Error(), nil)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rpc, err := dial(cfg)
	if err != nil {
		return err
	}
	defer rpc.Close()

	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	if err := rpc.Client().Push(ctx, args[0], v); err != nil {
		return requestFailed("Push", err)
	}
	printer.Success("Bound %s (%v) on %s\n", args[0], v.Kind(), rpc.Name())
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rpc, err := dial(cfg)
	if err != nil {
		return err
	}
	defer rpc.Close()

	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	v, err := rpc.Client().Pull(ctx, args[0])
	if err != nil {
		return requestFailed("Pull", err)
	}

	if pullOut == "" {
		printer.Println(thermabridge.Format(v))
		return nil
	}
	data, err := serializerFor(pullOut).Marshal(v)
	if err != nil {
		return printer.Error("Cannot encode value", err.Error(), nil)
	}
	if err := os.WriteFile(pullOut, data, 0644); err != nil {
		return printer.Error("Cannot write value", err.Error(), nil)
	}
	printer.Success("Wrote %s (%v, %d bytes) to %s\n", args[0], v.Kind(), len(data), pullOut)
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	fnArgs := make(thermabridge.List, 0, len(args)-1)
	for _, literal := range args[1:] {
		v, err := parseValue(literal)
		if err != nil {
			return printer.Error("Invalid argument", err.Error(), nil)
		}
		fnArgs = append(fnArgs, v)
	}
	var kwargs thermabridge.Mapping
	for _, kw := range callKw {
		key, literal, ok := strings.Cut(kw, "=")
		if !ok || key == "" {
			return printer.Error("Invalid keyword argument", fmt.Sprintf("%q is not key=value", kw), nil)
		}
		v, err := parseValue(literal)
		if err != nil {
			return printer.Error("Invalid keyword argument", err.Error(), nil)
		}
		kwargs = kwargs.Set(thermabridge.String(key), v)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rpc, err := dial(cfg)
	if err != nil {
		return err
	}
	defer rpc.Close()

	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	v, err := rpc.Client().Call(ctx, args[0], fnArgs, kwargs)
	if err != nil {
		return requestFailed(fmt.Sprintf("Call to %s", args[0]), err)
	}
	printer.Println(thermabridge.Format(v))
	return nil
}
