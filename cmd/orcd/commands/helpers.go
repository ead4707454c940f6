package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/flowcraft/orcd/internal/actionrun"
	"github.com/flowcraft/orcd/internal/capability/httpcap"
	"github.com/flowcraft/orcd/internal/capability/schemacap"
	"github.com/flowcraft/orcd/internal/capability/trackcap"
	"github.com/flowcraft/orcd/internal/cache"
	"github.com/flowcraft/orcd/internal/compiler"
	"github.com/flowcraft/orcd/internal/flowdoc/schema"
	"github.com/flowcraft/orcd/internal/hostconfig"
	"github.com/flowcraft/orcd/internal/orcevent"
	"github.com/flowcraft/orcd/internal/orchestrator"
	"github.com/flowcraft/orcd/internal/registry"
	"github.com/flowcraft/orcd/internal/snapshot"
)

// loadHostConfig loads a HostConfig, falling back to an empty profile
// (all capability-default policies) when the path doesn't exist —
// `orcd run` shouldn't require a config file for a quick smoke test.
func loadHostConfig(path string) (*hostconfig.HostConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &hostconfig.HostConfig{Metadata: hostconfig.Metadata{Name: "default"}}
		return cfg, nil
	}
	return hostconfig.NewLoader().Load(path)
}

// buildRegistry registers the default capability implementations named
// in cfg.Capabilities, wiring each namespace the flow document might
// invoke. actions.track is always registered, writing to
// .orcd/track.ndjson.
func buildRegistry(cfg *hostconfig.HostConfig) (*registry.Registry, error) {
	reg := registry.New()

	if cfg.Capabilities.Schemas != "" {
		validator := schemacap.New()
		if err := validator.RegisterInline("flow", schema.FlowSchema); err != nil {
			return nil, fmt.Errorf("registering reference flow schema: %w", err)
		}
		if err := reg.Register(registry.Tools, "schemas", actionrun.SchemaValidator(validator), nil); err != nil {
			return nil, err
		}
	}

	if len(cfg.Capabilities.Services) > 0 {
		if err := reg.Register(registry.Services, "http", httpcap.New(), nil); err != nil {
			return nil, err
		}
	}

	trackPath := ".orcd/track.ndjson"
	sink, err := trackcap.Open(trackPath)
	if err != nil {
		return nil, fmt.Errorf("wiring actions.track: %w", err)
	}
	if err := reg.Register(registry.Actions, "track", sink, nil); err != nil {
		return nil, err
	}

	return reg, nil
}

// buildStorage opens the default sqlite-backed snapshot store at the
// CLI default path, overridable via cfg.CLI.SnapshotPath.
func buildStorage(cfg *hostconfig.HostConfig) (*snapshot.Store, error) {
	path := cfg.CLI.SnapshotPath
	if path == "" {
		path = ".orcd/snapshots.db"
	}
	return snapshot.Open(path)
}

func buildCache(cfg *hostconfig.HostConfig) *cache.Cache {
	ttl := cfg.Policies.CacheTTLSeconds
	if ttl == 0 {
		ttl = 60
	}
	return cache.New(time.Duration(ttl) * time.Second)
}

// buildEmitter wires cfg.CLI's human/no-logs toggles to the NDJSON
// lifecycle emitter. Subscribing it to an actor is logLifecycle's job.
func buildEmitter(cfg *hostconfig.HostConfig) orcevent.Emitter {
	switch {
	case cfg.CLI.NoLogs:
		return orcevent.NewSuppressed()
	case cfg.CLI.HumanLogs:
		return orcevent.NewHumanReadable()
	default:
		return orcevent.New()
	}
}

func logLifecycle(emitter orcevent.Emitter, flowID string, actor *orchestrator.Actor) {
	actor.Subscribe(func(snap orchestrator.Snapshot) {
		emitter.Emit(orcevent.Event{
			Timestamp: time.Now(),
			FlowID:    flowID,
			NodePath:  snap.ActiveNode,
			State:     string(snap.NodeState),
		})
	})
}

func compileFlow(flowPath string, legacyLogic bool) (*compiler.Machine, error) {
	raw, err := os.ReadFile(flowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow document: %w", err)
	}
	return compiler.Compile(raw, compiler.WithLegacyLogic(legacyLogic))
}
