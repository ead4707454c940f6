package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowcraft/orcd/internal/orchestrator"
	"github.com/flowcraft/orcd/internal/render/tui"
)

// RunOptions configures `orcd run`.
type RunOptions struct {
	FlowPath    string
	HostConfig  string
	LegacyLogic bool
	FlowID      string
}

// NewRunCmd builds the subcommand that compiles a flow document,
// starts it against the default capability set, and drives it through
// the terminal renderer (spec §4.H, §4.L).
func NewRunCmd() *cobra.Command {
	var opts RunOptions

	cmd := &cobra.Command{
		Use:   "run <flow.json>",
		Short: "Compile and run a flow document",
		Long:  "Starts a fresh orchestrator instance for the given flow document and drives it interactively via the terminal renderer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FlowPath = args[0]
			opts.HostConfig, _ = cmd.Flags().GetString("host-config")
			return runRun(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.LegacyLogic, "legacy-logic", false, "Accept deprecated string-form conditions")
	cmd.Flags().StringVar(&opts.FlowID, "flow-id", "", "Flow instance id for snapshot persistence (defaults to the flow document id)")

	return cmd
}

func runRun(opts RunOptions) error {
	m, err := compileFlow(opts.FlowPath, opts.LegacyLogic)
	if err != nil {
		return err
	}

	hostCfg, err := loadHostConfig(opts.HostConfig)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(hostCfg)
	if err != nil {
		return err
	}

	store, err := buildStorage(hostCfg)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer store.Close()

	flowID := opts.FlowID
	if flowID == "" {
		flowID = m.Doc.ID
	}

	actor, err := orchestrator.Start(m, orchestrator.Deps{
		Registry: reg,
		Cache:    buildCache(hostCfg),
		Storage:  store,
		FlowID:   flowID,
	})
	if err != nil {
		return fmt.Errorf("starting flow %q: %w", flowID, err)
	}
	defer actor.Stop()

	logLifecycle(buildEmitter(hostCfg), flowID, actor)

	if err := tui.Run(actor); err != nil {
		fmt.Fprintln(os.Stderr, "renderer exited:", err)
		return err
	}
	return nil
}
