package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowcraft/orcd/internal/capability/schemacap"
	"github.com/flowcraft/orcd/internal/compiler"
	"github.com/flowcraft/orcd/internal/flowdoc/schema"
)

// ValidateOptions configures `orcd validate`.
type ValidateOptions struct {
	FlowPath    string
	LegacyLogic bool
	Verbose     bool
	CheckSchema bool
}

// NewValidateCmd builds the compile-only subcommand.
func NewValidateCmd() *cobra.Command {
	var opts ValidateOptions

	cmd := &cobra.Command{
		Use:   "validate <flow.json>",
		Short: "Compile a flow document without running it",
		Long:  "Runs the four-phase flow compiler (parse, normalize, validate, emit) and reports the first error, if any.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FlowPath = args[0]
			return runValidate(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.LegacyLogic, "legacy-logic", false, "Accept deprecated string-form conditions")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")
	cmd.Flags().BoolVar(&opts.CheckSchema, "check-schema", false, "Also validate the raw document against the reference flow JSON Schema")

	return cmd
}

func runValidate(opts ValidateOptions) error {
	if opts.Verbose {
		fmt.Printf("Validating flow document: %s\n", opts.FlowPath)
	}

	raw, err := os.ReadFile(opts.FlowPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("failed to read flow document: %w\n\nHint: check the path passed to 'orcd validate'", err)
		}
		return fmt.Errorf("failed to read flow document: %w", err)
	}

	if opts.CheckSchema {
		v := schemacap.New()
		if err := v.RegisterInline("flow", schema.FlowSchema); err != nil {
			return fmt.Errorf("loading reference flow schema: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing flow document as JSON: %w", err)
		}
		if err := v.Validate("flow", doc); err != nil {
			return fmt.Errorf("document failed reference schema: %w", err)
		}
	}

	m, err := compiler.Compile(raw, compiler.WithLegacyLogic(opts.LegacyLogic))
	if err != nil {
		return err
	}

	if opts.Verbose {
		fmt.Printf("✓ document %q compiled: %d nodes, initial=%q\n", m.Doc.ID, len(m.Paths()), m.Doc.Initial)
	} else {
		fmt.Println("✓ valid")
	}
	return nil
}
