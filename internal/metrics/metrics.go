package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/metafile"
)

// BuildMetrics collects statistics for one metafile-to-graph run.
type BuildMetrics struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ms,omitempty"`
	Input      InputMetrics  `json:"input"`
	Graph      GraphMetrics  `json:"graph"`
	Phases     []PhaseMetric `json:"phases"`
	Artifacts  []string      `json:"artifacts,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
}

type InputMetrics struct {
	Path        string `json:"path"`
	EntryPath   string `json:"entry_path"`
	InputCount  int    `json:"input_count"`
	OutputCount int    `json:"output_count"`
	ImportCount int    `json:"import_count"`
	TotalBytes  int64  `json:"total_bytes"`
}

type GraphMetrics struct {
	Modules        int `json:"modules"`
	Edges          int `json:"edges"`
	IgnoredEdges   int `json:"ignored_edges"`
	DanglingEdges  int `json:"dangling_edges"`
	SkippedModules int `json:"skipped_modules"`
	Components     int `json:"components"`
	Cycles         int `json:"cycles"`
}

type PhaseMetric struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ms"`
}

// New starts tracking a run.
func New() *BuildMetrics {
	return &BuildMetrics{StartedAt: time.Now()}
}

// CollectInput computes input-side metrics from the metafile.
func (m *BuildMetrics) CollectInput(path, entryPath string, meta *metafile.Metafile) {
	m.Input.Path = path
	m.Input.EntryPath = entryPath
	m.Input.InputCount = meta.Inputs.Len()
	m.Input.OutputCount = len(meta.Outputs)

	for _, p := range meta.Inputs.Paths() {
		input, _ := meta.Inputs.Get(p)
		m.Input.ImportCount += len(input.Imports)
		m.Input.TotalBytes += input.Bytes
	}
}

// CollectGraph records the builder's counters and graph shape.
func (m *BuildMetrics) CollectGraph(report depgraph.BuildReport, stats depgraph.Stats) {
	m.Graph = GraphMetrics{
		Modules:        report.Modules,
		Edges:          report.Edges,
		IgnoredEdges:   report.IgnoredEdges,
		DanglingEdges:  report.DanglingEdges,
		SkippedModules: report.SkippedModules,
		Components:     stats.ConnectedComponents,
		Cycles:         len(stats.Cycles),
	}
}

// AddPhase records a single phase's timing.
func (m *BuildMetrics) AddPhase(name string, d time.Duration) {
	m.Phases = append(m.Phases, PhaseMetric{Name: name, Duration: d})
}

// Finish marks the run as complete.
func (m *BuildMetrics) Finish(artifacts []string, errs []string) {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	m.Artifacts = artifacts
	m.Errors = errs
}

// PrintSummary writes a human-readable summary.
func (m *BuildMetrics) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║        METAGRAPH BUILD REPORT        ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ INPUT (%s)\n", m.Input.Path)
	fmt.Fprintf(w, "║   Entry:       %s\n", m.Input.EntryPath)
	fmt.Fprintf(w, "║   Inputs:      %d\n", m.Input.InputCount)
	fmt.Fprintf(w, "║   Outputs:     %d\n", m.Input.OutputCount)
	fmt.Fprintf(w, "║   Imports:     %d\n", m.Input.ImportCount)
	fmt.Fprintf(w, "║   Total Size:  %s\n", humanize.Bytes(uint64(m.Input.TotalBytes)))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ GRAPH\n")
	fmt.Fprintf(w, "║   Modules:     %d\n", m.Graph.Modules)
	fmt.Fprintf(w, "║   Edges:       %d\n", m.Graph.Edges)
	fmt.Fprintf(w, "║   Ignored:     %d\n", m.Graph.IgnoredEdges)
	fmt.Fprintf(w, "║   Dangling:    %d\n", m.Graph.DanglingEdges)
	fmt.Fprintf(w, "║   Components:  %d\n", m.Graph.Components)
	fmt.Fprintf(w, "║   Cycles:      %d\n", m.Graph.Cycles)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ PHASES\n")
	for _, p := range m.Phases {
		fmt.Fprintf(w, "║   %-14s %8s\n", p.Name, p.Duration.Round(time.Microsecond))
	}
	if len(m.Artifacts) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ARTIFACTS\n")
		for _, a := range m.Artifacts {
			fmt.Fprintf(w, "║   %s\n", a)
		}
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the metrics as formatted JSON.
func (m *BuildMetrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
