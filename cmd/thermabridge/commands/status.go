package commands

import (
	"github.com/richinsley/thermabridge"
	"github.com/richinsley/thermabridge/internal/printer"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the host's interpreter",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "List the shared segments present on this machine",
	Args:  cobra.NoArgs,
	RunE:  runNames,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(namesCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rpc, err := dial(cfg)
	if err != nil {
		return err
	}
	defer rpc.Close()

	client := rpc.Client()
	ch := rpc.Channel()
	hdr := ch.Header()

	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	running, err := client.Running(ctx)
	if err != nil {
		return requestFailed("Status", err)
	}
	busy, err := client.Busy()
	if err != nil {
		return requestFailed("Status", err)
	}
	peers, err := ch.Connected()
	if err != nil {
		return requestFailed("Status", err)
	}

	printer.Info("Segment:          %s\n", ch.Name())
	printer.Info("Size:             %d bytes\n", hdr.Size)
	printer.Info("Max message size: %d bytes\n", hdr.MaxMessageSize)
	printer.Info("Connected peers:  %d\n", peers)
	printer.Info("Running:          %v\n", running)
	printer.Info("Busy:             %v\n", busy)
	return nil
}

func runNames(cmd *cobra.Command, args []string) error {
	names, err := thermabridge.ListSegments()
	if err != nil {
		return printer.Error("Cannot list segments", err.Error(), nil)
	}
	if len(names) == 0 {
		printer.Info("No segments in %s\n", thermabridge.SegmentDir())
		return nil
	}
	for _, name := range names {
		printer.Println(name)
	}
	return nil
}
