package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// InspectOptions configures `orcd inspect`.
type InspectOptions struct {
	FlowID     string
	HostConfig string
}

// NewInspectCmd builds the subcommand that dumps a persisted snapshot
// without starting the orchestrator, for debugging a flow instance
// that is paused or crashed (spec §4.J).
func NewInspectCmd() *cobra.Command {
	var opts InspectOptions

	cmd := &cobra.Command{
		Use:   "inspect <flow-id>",
		Short: "Print the persisted snapshot for a flow instance",
		Long:  "Reads the snapshot row for the given flow id from the default storage backend and prints it as formatted JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FlowID = args[0]
			opts.HostConfig, _ = cmd.Flags().GetString("host-config")
			return runInspect(opts)
		},
	}

	return cmd
}

func runInspect(opts InspectOptions) error {
	hostCfg, err := loadHostConfig(opts.HostConfig)
	if err != nil {
		return err
	}

	store, err := buildStorage(hostCfg)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer store.Close()

	blob, found, err := store.Load(opts.FlowID)
	if err != nil {
		return fmt.Errorf("loading snapshot for %q: %w", opts.FlowID, err)
	}
	if !found {
		return fmt.Errorf("no persisted snapshot for flow %q", opts.FlowID)
	}

	out, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
