package commands

import (
	"io"
	"os"
	"strings"

	"github.com/richinsley/thermabridge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	execCode   string
	lineNoWait bool
)

var execCmd = &cobra.Command{
	Use:   "exec [file|-]",
	Short: "Run a script in the host's interpreter",
	Long: `Send a script to the host's interpreter and wait for it to finish.

The script comes from --code, from a file, or from stdin when the argument is
"-". A failure on the host is printed with its traceback.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

var lineCmd = &cobra.Command{
	Use:   "line <code>",
	Short: "Run one line of interactive input in the host's interpreter",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLine,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the host's interpreter",
	Args:  cobra.NoArgs,
	RunE:  runRestart,
}

var styleCmd = &cobra.Command{
	Use:   "style <file>",
	Short: "Set the style sheet of the host's console",
	Args:  cobra.ExactArgs(1),
	RunE:  runStyle,
}

func init() {
	execCmd.Flags().StringVarP(&execCode, "code", "e", "", "Script text")
	lineCmd.Flags().BoolVar(&lineNoWait, "nowait", false, "Queue the line and return without waiting")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(lineCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(styleCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	code := execCode
	if len(args) == 1 {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return printer.Error("Cannot read script", err.Error(), nil)
		}
		code = string(data)
	}
	if code == "" {
		return printer.Error("Nothing to run", "No script was given.", []string{
			"Pass the script with --code",
			"Pass a file name, or - to read stdin",
		})
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
	if err := rpc.Client().Exec(ctx, code); err != nil {
		return requestFailed("Script", err)
	}
	printer.Success("Script finished on %s\n", rpc.Name())
	return nil
}

func runLine(cmd *cobra.Command, args []string) error {
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
	code := strings.Join(args, " ")
	if lineNoWait {
		if err := rpc.Client().ExecLineNoWait(ctx, code); err != nil {
			return requestFailed("Line", err)
		}
		printer.Success("Line queued on %s\n", rpc.Name())
		return nil
	}
	if err := rpc.Client().ExecLine(ctx, code); err != nil {
		return requestFailed("Line", err)
	}
	printer.Success("Line finished on %s\n", rpc.Name())
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
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
	printer.Step("Restarting interpreter on %s...\n", rpc.Name())
	if err := rpc.Client().Restart(ctx); err != nil {
		return requestFailed("Restart", err)
	}
	printer.Success("Interpreter restarted\n")
	return nil
}

func runStyle(cmd *cobra.Command, args []string) error {
	css, err := os.ReadFile(args[0])
	if err != nil {
		return printer.Error("Cannot read style sheet", err.Error(), nil)
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
	if err := rpc.Client().SetStyleSheet(ctx, string(css)); err != nil {
		return requestFailed("Style sheet", err)
	}
	printer.Success("Style sheet sent\n")
	return nil
}
