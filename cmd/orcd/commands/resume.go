package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowcraft/orcd/internal/orchestrator"
	"github.com/flowcraft/orcd/internal/render/tui"
)

// ResumeOptions configures `orcd resume`.
type ResumeOptions struct {
	FlowPath    string
	HostConfig  string
	LegacyLogic bool
	FlowID      string
}

// NewResumeCmd builds the subcommand that rehydrates a previously
// persisted flow instance from storage and continues driving it,
// rather than starting fresh (spec §4.J rehydrate-on-resume).
func NewResumeCmd() *cobra.Command {
	var opts ResumeOptions

	cmd := &cobra.Command{
		Use:   "resume <flow.json> <flow-id>",
		Short: "Resume a previously persisted flow instance",
		Long:  "Recompiles the flow document and rehydrates the named flow instance from the default storage backend, then continues driving it via the terminal renderer.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FlowPath = args[0]
			opts.FlowID = args[1]
			opts.HostConfig, _ = cmd.Flags().GetString("host-config")
			return runResume(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.LegacyLogic, "legacy-logic", false, "Accept deprecated string-form conditions")

	return cmd
}

func runResume(opts ResumeOptions) error {
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

	actor, err := orchestrator.Start(m, orchestrator.Deps{
		Registry: reg,
		Cache:    buildCache(hostCfg),
		Storage:  store,
		Resume:   true,
		FlowID:   opts.FlowID,
	})
	if err != nil {
		return fmt.Errorf("resuming flow %q: %w", opts.FlowID, err)
	}
	defer actor.Stop()

	logLifecycle(buildEmitter(hostCfg), opts.FlowID, actor)

	if err := tui.Run(actor); err != nil {
		fmt.Fprintln(os.Stderr, "renderer exited:", err)
		return err
	}
	return nil
}
