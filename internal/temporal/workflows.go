package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
)

// GraphInput holds the workflow parameters.
type GraphInput struct {
	MetafilePath   string
	EntryPath      string
	OutputDir      string
	ValidateSchema bool

	// Store persists the graph through the worker's repository after building.
	Store bool

	// QueryPaths are modules whose ancestors are reported in the output.
	QueryPaths []string
}

// GraphOutput holds the workflow result.
type GraphOutput struct {
	Artifacts []string
	Report    depgraph.BuildReport
	Ancestors map[string][]string
	Stored    int
	Errors    []string
}

// GraphWorkflow builds the dependency graph from a metafile, writes its
// artifacts, and optionally stores it in the graph database.
func GraphWorkflow(ctx workflow.Context, input GraphInput) (*GraphOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
			// A malformed metafile fails the same way on every attempt.
			NonRetryableErrorTypes: []string{ErrTypeInvalidMetafile},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var built BuildResult
	if err := workflow.ExecuteActivity(ctx, BuildGraphActivity, input).Get(ctx, &built); err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	output := &GraphOutput{
		Artifacts: built.Artifacts,
		Report:    built.Report,
		Ancestors: built.Ancestors,
		Errors:    built.Errors,
	}

	if input.Store {
		var stored StoreResult
		if err := workflow.ExecuteActivity(ctx, StoreGraphActivity, input).Get(ctx, &stored); err != nil {
			return nil, fmt.Errorf("store graph: %w", err)
		}
		output.Stored = stored.Modules
	}

	return output, nil
}
