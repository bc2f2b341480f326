package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/metagraph/internal/config"
	"github.com/efebarandurmaz/metagraph/internal/depgraph"
	"github.com/efebarandurmaz/metagraph/internal/graph"
	"github.com/efebarandurmaz/metagraph/internal/graph/neo4j"
	"github.com/efebarandurmaz/metagraph/internal/metafile"
	"github.com/efebarandurmaz/metagraph/internal/metrics"
	"github.com/efebarandurmaz/metagraph/internal/observability"
	"github.com/efebarandurmaz/metagraph/internal/server"
	temporalmod "github.com/efebarandurmaz/metagraph/internal/temporal"
)

const version = "0.1.0"

// app carries the resolved configuration shared by every command.
type app struct {
	configPath   string
	metafilePath string
	entryPath    string
	noSchema     bool
	noColor      bool

	cfg     *config.Config
	logger  *slog.Logger
	tracing *observability.TracerProvider
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "metagraph",
		Short:         "Module dependency graphs from esbuild metafiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&a.metafilePath, "metafile", "", "Path to the esbuild metafile (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.entryPath, "entry", "", "Entry module path, assigned id 0 (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&a.noSchema, "no-schema", false, "Skip JSON-schema validation of the metafile")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		a.buildCmd(),
		a.ancestorsCmd(),
		a.moduleCmd(),
		a.statsCmd(),
		a.exportCmd(),
		a.storeCmd(),
		a.submitCmd(),
		a.serveCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) setup(ctx context.Context) error {
	if a.noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.metafilePath != "" {
		cfg.Metafile.Path = a.metafilePath
	}
	if a.entryPath != "" {
		cfg.Metafile.Entry = a.entryPath
	}
	if a.noSchema {
		cfg.Metafile.ValidateSchema = false
	}
	a.cfg = cfg

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	slog.SetDefault(logger)
	a.logger = logger

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceVersion = version
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tcfg.Environment = cfg.Tracing.Environment
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	a.tracing = tp
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.tracing == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.tracing.Shutdown(shutdownCtx)
}

// loadSession reads the configured metafile and builds its graph. Phase
// timings and counters are recorded into m when it is non-nil.
func (a *app) loadSession(ctx context.Context, m *metrics.BuildMetrics) (*depgraph.Session, error) {
	path, entry := a.cfg.Metafile.Path, a.cfg.Metafile.Entry

	_, span := observability.StartLoadSpan(ctx, path)
	start := time.Now()
	meta, err := metafile.Load(path, metafile.WithSchemaValidation(a.cfg.Metafile.ValidateSchema))
	observability.RecordError(span, err)
	span.End()
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.AddPhase("load", time.Since(start))
		m.CollectInput(path, entry, meta)
	}

	_, span = observability.StartBuildSpan(ctx, entry, meta.Inputs.Len())
	defer span.End()
	start = time.Now()
	session := depgraph.NewSession(depgraph.WithLogger(a.logger))
	if err := session.Init(meta, entry); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	report, _ := session.Report()
	observability.RecordBuildResult(span, report.Modules, report.Edges, report.DanglingEdges, report.IgnoredEdges)
	if m != nil {
		m.AddPhase("build", time.Since(start))
	}
	return session, nil
}

// ancestorsOf resolves path and returns its ancestor ids.
func (a *app) ancestorsOf(ctx context.Context, s *depgraph.Session, path string) ([]depgraph.ModuleID, error) {
	_, span := observability.StartQuerySpan(ctx, "ancestors", path)
	defer span.End()

	id, err := s.ModuleID(path)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	ids, err := s.InverseDependencies(id)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordQueryResult(span, len(ids))
	return ids, nil
}

func (a *app) buildCmd() *cobra.Command {
	var (
		outputDir  string
		queries    []string
		jsonReport bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the dependency graph and write its artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if outputDir == "" {
				outputDir = a.cfg.Output.Dir
			}

			m := metrics.New()
			session, err := a.loadSession(ctx, m)
			if err != nil {
				return err
			}
			g, _ := session.DependencyGraph()
			modules, _ := session.ModuleTable()
			report, _ := session.Report()

			start := time.Now()
			stats := depgraph.ComputeStats(g, modules)
			m.AddPhase("stats", time.Since(start))
			m.CollectGraph(report, stats)

			start = time.Now()
			artifacts, err := depgraph.WriteArtifacts(outputDir, g, modules)
			if err != nil {
				return err
			}
			m.AddPhase("write", time.Since(start))

			var errs []string
			for _, q := range queries {
				ids, err := a.ancestorsOf(ctx, session, q)
				if err != nil {
					errs = append(errs, err.Error())
					continue
				}
				out, err := renderAncestors(session, ids)
				if err != nil {
					return err
				}
				fmt.Printf("\nAncestors of %s:\n%s\n", q, out)
			}
			m.Finish(artifacts, errs)

			if jsonReport {
				data, err := m.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			printStatus("Built graph: %d modules, %d edges", report.Modules, report.Edges)
			if report.DanglingEdges > 0 {
				printWarning("%d imports point outside the metafile", report.DanglingEdges)
			}
			m.PrintSummary(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output", "", "Output directory (default from config)")
	cmd.Flags().StringSliceVar(&queries, "query", nil, "Module paths whose ancestors to print")
	cmd.Flags().BoolVar(&jsonReport, "json", false, "Output metrics as JSON")
	return cmd
}

func (a *app) ancestorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ancestors <module-path>",
		Short: "List a module and every module that transitively imports it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.loadSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			ids, err := a.ancestorsOf(cmd.Context(), session, args[0])
			if err != nil {
				return err
			}
			out, err := renderAncestors(session, ids)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func (a *app) moduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "module <module-path>",
		Short: "Show the record and adjacency of one module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.loadSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			m, ok, err := session.Module(args[0])
			if err != nil {
				return err
			}
			if !ok {
				printWarning("%s is not in the metafile", args[0])
				return nil
			}
			id, err := session.ModuleID(args[0])
			if err != nil {
				return err
			}
			g, _ := session.DependencyGraph()
			fmt.Println(renderModule(id, m, g[id]))
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.loadSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			g, _ := session.DependencyGraph()
			modules, _ := session.ModuleTable()
			stats := depgraph.ComputeStats(g, modules)

			if jsonOut {
				data, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Print(depgraph.FormatStats(stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output statistics as JSON")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the graph as dot, mermaid, json, modules or yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.loadSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			g, _ := session.DependencyGraph()
			modules, _ := session.ModuleTable()

			data, err := exportGraph(format, g, modules)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}
			printStatus("Wrote %s export to %s", format, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "dot", "Export format: dot, mermaid, json, modules, yaml")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

// exportGraph renders g in the named format.
func exportGraph(format string, g depgraph.DependencyGraph, modules depgraph.ModuleTable) ([]byte, error) {
	switch strings.ToLower(format) {
	case "dot":
		return []byte(depgraph.ExportDOT(g, modules)), nil
	case "mermaid":
		return []byte(depgraph.ExportMermaid(g, modules)), nil
	case "json":
		data, err := depgraph.ExportJSON(g)
		return append(data, '\n'), err
	case "modules":
		data, err := depgraph.ExportModulesJSON(modules)
		return append(data, '\n'), err
	case "yaml":
		return depgraph.ExportYAML(g, modules)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func (a *app) storeCmd() *cobra.Command {
	var dependents []string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store the graph in Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			gc := a.cfg.Graph
			if gc.URI == "" {
				return errors.New("graph.uri is not configured (set METAGRAPH_GRAPH_URI)")
			}

			session, err := a.loadSession(ctx, nil)
			if err != nil {
				return err
			}
			snap, err := snapshotOf(session)
			if err != nil {
				return err
			}

			repo, err := neo4j.NewNeo4j(ctx, gc.URI, gc.Username, gc.Password, gc.Database)
			if err != nil {
				return err
			}
			defer repo.Close(ctx)

			if err := storeSnapshot(ctx, repo, snap, "neo4j"); err != nil {
				return err
			}
			printStatus("Stored %d modules in %s", len(snap.Modules), gc.URI)

			for _, path := range dependents {
				direct, err := repo.QueryDependents(ctx, path)
				if err != nil {
					printWarning("%s: %v", path, err)
					continue
				}
				all, err := repo.QueryAncestors(ctx, path)
				if err != nil {
					printWarning("%s: %v", path, err)
					continue
				}
				fmt.Println(renderDependents(path, direct, all))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dependents, "dependents", nil, "Module paths to query after storing")
	return cmd
}

func snapshotOf(s *depgraph.Session) (*graph.Snapshot, error) {
	entry, err := s.EntryPath()
	if err != nil {
		return nil, err
	}
	g, _ := s.DependencyGraph()
	modules, _ := s.ModuleTable()
	return &graph.Snapshot{EntryPath: entry, Graph: g, Modules: modules}, nil
}

func storeSnapshot(ctx context.Context, repo graph.Repository, snap *graph.Snapshot, backend string) error {
	ctx, span := observability.StartStoreSpan(ctx, backend, len(snap.Modules))
	defer span.End()
	err := repo.StoreGraph(ctx, snap)
	observability.RecordError(span, err)
	return err
}

func (a *app) submitCmd() *cobra.Command {
	var (
		outputDir string
		store     bool
		queries   []string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run the graph workflow on a Temporal worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir == "" {
				outputDir = a.cfg.Output.Dir
			}
			metaPath, err := filepath.Abs(a.cfg.Metafile.Path)
			if err != nil {
				return err
			}
			outDir, err := filepath.Abs(outputDir)
			if err != nil {
				return err
			}

			c, err := temporalclient.Dial(temporalclient.Options{
				HostPort:  a.cfg.Temporal.Host,
				Namespace: a.cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("temporal client: %w", err)
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			run, err := c.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
				ID:        fmt.Sprintf("metagraph-%d", time.Now().UnixNano()),
				TaskQueue: a.cfg.Temporal.TaskQueue,
			}, temporalmod.GraphWorkflow, temporalmod.GraphInput{
				MetafilePath:   metaPath,
				EntryPath:      a.cfg.Metafile.Entry,
				OutputDir:      outDir,
				ValidateSchema: a.cfg.Metafile.ValidateSchema,
				Store:          store,
				QueryPaths:     queries,
			})
			if err != nil {
				return fmt.Errorf("start workflow: %w", err)
			}
			a.logger.Info("workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

			var out temporalmod.GraphOutput
			if err := run.Get(ctx, &out); err != nil {
				return fmt.Errorf("workflow %s: %w", run.GetID(), err)
			}

			printStatus("Workflow %s: %d modules, %d edges", run.GetID(), out.Report.Modules, out.Report.Edges)
			for _, artifact := range out.Artifacts {
				fmt.Printf("  %s\n", artifact)
			}
			if store {
				printStatus("Stored %d modules", out.Stored)
			}
			for _, q := range queries {
				if paths, ok := out.Ancestors[q]; ok {
					fmt.Printf("\nAncestors of %s:\n  %s\n", q, strings.Join(paths, "\n  "))
				}
			}
			for _, e := range out.Errors {
				printWarning("%s", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", "", "Output directory on the worker (default from config)")
	cmd.Flags().BoolVar(&store, "store", false, "Store the graph through the worker's repository")
	cmd.Flags().StringSliceVar(&queries, "query", nil, "Module paths whose ancestors to report")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "How long to wait for the workflow")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve graph queries and health probes over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			session, err := a.loadSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			health := server.NewHealthServer(version)
			qs := server.NewQueryServer(addr, session, health)
			health.SetReady(true)

			sh := server.NewShutdownHandler(30*time.Second, a.logger)
			sh.RegisterHook("http", 10, qs.Stop)
			sh.Start()

			printStatus("Serving %s on %s", a.cfg.Metafile.Path, addr)
			if err := qs.Start(); err != nil {
				return err
			}
			if errs := sh.Wait(); len(errs) > 0 {
				return errors.Join(errs...)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
