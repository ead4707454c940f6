package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowcraft/orcd/internal/orchestrator"
	"github.com/flowcraft/orcd/internal/render/web"
)

// ServeOptions configures `orcd serve`.
type ServeOptions struct {
	FlowPath    string
	HostConfig  string
	LegacyLogic bool
	FlowID      string
	Bind        string
	Port        int
}

// NewServeCmd builds the subcommand that starts a flow headlessly and
// exposes it over the SSE push renderer (spec §4.L, §6), for dashboard
// or browser consumption instead of a terminal.
func NewServeCmd() *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve <flow.json>",
		Short: "Run a flow document behind an HTTP/SSE endpoint",
		Long:  "Starts a fresh orchestrator instance and serves its snapshot stream over Server-Sent Events, for dashboards and browser clients.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FlowPath = args[0]
			opts.HostConfig, _ = cmd.Flags().GetString("host-config")
			return runServe(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.LegacyLogic, "legacy-logic", false, "Accept deprecated string-form conditions")
	cmd.Flags().StringVar(&opts.FlowID, "flow-id", "", "Flow instance id for snapshot persistence (defaults to the flow document id)")
	cmd.Flags().StringVar(&opts.Bind, "bind", "127.0.0.1", "Address to bind the HTTP server to")
	cmd.Flags().IntVar(&opts.Port, "port", 8090, "Port to serve on")

	return cmd
}

func runServe(opts ServeOptions) error {
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

	srv := web.NewServer(web.ServerConfig{Bind: opts.Bind, Port: opts.Port}, actor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("serving flow %q on http://%s:%d (GET /events for SSE, /snapshot for a one-shot read)\n", flowID, opts.Bind, opts.Port)
	return srv.Start(ctx)
}
