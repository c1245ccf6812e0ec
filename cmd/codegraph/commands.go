// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/index"
	"github.com/AleutianAI/codegraph/telemetry"
)

// timePrecision rounds durations in human-facing output.
const timePrecision = 10 * time.Millisecond

// Persistent flags.
var (
	configPath string
	quietLogs  bool
)

// Per-command flags.
var (
	forceRecreate  bool
	sequentialMode bool
	topK           int
	candidateCount int
	withNeighbors  bool
	maxCycleLength int
	maxCycles      int
	clusterHint    int
	pathTopN       int
)

var (
	rootCmd = &cobra.Command{
		Use:   "codegraph",
		Short: "Index a Python codebase into a queryable code graph",
		Long: `codegraph extracts functions, classes, and their relationships from
Python source, embeds them into a vector store, and answers structural
queries: hubs, paths, cycles, clusters, and blast-radius impact.`,
		SilenceUsage: true,
	}

	indexCmd = &cobra.Command{
		Use:   "index [root]",
		Short: "Index every Python file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	}

	updateCmd = &cobra.Command{
		Use:   "update [file]",
		Short: "Re-index a single file (delete then reinsert)",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdate,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [root]",
		Short: "Watch a directory and keep the index current",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	queryCmd = &cobra.Command{
		Use:   "query [text]",
		Short: "Hybrid similarity + graph-structure search",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	hubsCmd = &cobra.Command{
		Use:   "hubs",
		Short: "Most central entities by PageRank",
		Args:  cobra.NoArgs,
		RunE:  runHubs,
	}

	pathCmd = &cobra.Command{
		Use:   "path [source] [target...]",
		Short: "Shortest dependency paths from source to targets",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runPath,
	}

	cyclesCmd = &cobra.Command{
		Use:   "cycles [entity]",
		Short: "Dependency cycles through an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  runCycles,
	}

	clustersCmd = &cobra.Command{
		Use:   "clusters",
		Short: "Community structure of the code graph",
		Args:  cobra.NoArgs,
		RunE:  runClusters,
	}

	impactCmd = &cobra.Command{
		Use:   "impact [entity]",
		Short: "Blast radius of changing an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  runImpact,
	}

	estimateCmd = &cobra.Command{
		Use:   "estimate [root]",
		Short: "Predict how long indexing a directory will take",
		Args:  cobra.ExactArgs(1),
		RunE:  runEstimate,
	}

	serveMetricsCmd = &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServeMetrics,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.codegraph/codegraph.yaml)")
	rootCmd.PersistentFlags().BoolVar(&quietLogs, "quiet", false, "suppress log output on stderr")

	indexCmd.Flags().BoolVar(&forceRecreate, "force", false, "drop and recreate the collection first")
	indexCmd.Flags().BoolVar(&sequentialMode, "sequential", false, "index one file at a time")

	queryCmd.Flags().IntVar(&topK, "top", 10, "results to return")
	queryCmd.Flags().IntVar(&candidateCount, "candidates", 50, "similarity candidates feeding the subgraph")
	queryCmd.Flags().BoolVar(&withNeighbors, "neighbors", true, "widen the subgraph with direct neighbors")

	hubsCmd.Flags().IntVar(&topK, "top", 10, "entities to return")

	pathCmd.Flags().IntVar(&pathTopN, "top", 5, "paths to keep")

	cyclesCmd.Flags().IntVar(&maxCycleLength, "max-length", 10, "longest cycle to report")
	cyclesCmd.Flags().IntVar(&maxCycles, "max-results", 5, "cycles to report")

	clustersCmd.Flags().IntVar(&clusterHint, "hint", 0, "advisory cluster count")

	rootCmd.AddCommand(indexCmd, updateCmd, watchCmd, queryCmd, hubsCmd,
		pathCmd, cyclesCmd, clustersCmd, impactCmd, estimateCmd, serveMetricsCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.indexer(sequentialMode).IndexTree(ctx, args[0], forceRecreate)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d files (%d entities, %d failed) in %s\n",
		stats.Files, stats.Entities, stats.Failed, stats.Duration.Round(timePrecision))
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stored, err := a.indexer(true).UpdateFile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s: %d entities\n", args[0], stored)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	watcher, err := index.NewWatcher(args[0], a.indexer(true), a.store,
		index.WithWatcherLogger(a.logger.Slog()))
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
	<-ctx.Done()
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	query := strings.Join(args, " ")
	results, err := a.engine.HybridQuery(ctx, query, topK, candidateCount, withNeighbors)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. %-10s %-30s %s:%d  (score %.3f)\n",
			i+1, r.Entity.Type, r.Entity.Name, r.Entity.FilePath, r.Entity.LineStart, r.Score)
	}
	return nil
}

func runHubs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ranked := a.engine.TopByPageRank(ctx, topK)
	if len(ranked) == 0 {
		fmt.Println("Graph is empty.")
		return nil
	}
	for _, r := range ranked {
		fmt.Printf("%2d. %-30s %s:%d  (pagerank %.4f)\n",
			r.Rank, r.Node.Name, r.Node.FilePath, r.Node.LineStart, r.Score)
	}
	return nil
}

func runPath(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	source, err := a.resolveEntity(ctx, args[0])
	if err != nil {
		return err
	}
	targetIDs := make([]string, 0, len(args)-1)
	for _, arg := range args[1:] {
		target, err := a.resolveEntity(ctx, arg)
		if err != nil {
			return err
		}
		targetIDs = append(targetIDs, target.ID)
	}

	paths := a.facade.CriticalPaths(ctx, source.ID, targetIDs, pathTopN)
	if len(paths) == 0 {
		fmt.Println("No paths found.")
		return nil
	}
	for _, path := range paths {
		names := make([]string, len(path))
		for i, node := range path {
			names[i] = node.Name
		}
		fmt.Printf("%s  (%d hops)\n", strings.Join(names, " -> "), len(path)-1)
	}
	return nil
}

func runCycles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	start, err := a.resolveEntity(ctx, args[0])
	if err != nil {
		return err
	}

	cycles := a.engine.DetectCycles(ctx, start.ID, maxCycleLength, maxCycles)
	if len(cycles) == 0 {
		fmt.Printf("No cycles through %s.\n", start.Name)
		return nil
	}
	for i, cycle := range cycles {
		fmt.Printf("%2d. %s -> %s  [%s]\n",
			i+1, strings.Join(cycle.Names, " -> "), cycle.Names[0], cycle.Type)
	}
	return nil
}

func runClusters(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	clusters := a.engine.Clusters(ctx, clusterHint)
	if len(clusters) == 0 {
		fmt.Println("Graph is empty.")
		return nil
	}
	for i := 0; i < len(clusters); i++ {
		members := clusters[i]
		preview := members
		suffix := ""
		if len(preview) > 5 {
			preview = preview[:5]
			suffix = ", ..."
		}
		fmt.Printf("cluster %d: %d entities  (%s%s)\n",
			i, len(members), strings.Join(preview, ", "), suffix)
	}
	return nil
}

func runImpact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	target, err := a.resolveEntity(ctx, args[0])
	if err != nil {
		return err
	}

	impact, err := a.facade.BlastRadius(ctx, target.ID)
	if err != nil {
		return err
	}
	if impact == nil {
		fmt.Printf("Entity %q not found.\n", args[0])
		return nil
	}

	fmt.Printf("Impact of changing %s: %s\n", impact.Target.Name, impact.Summary)
	fmt.Printf("  risk:      %s\n", impact.Risk)
	fmt.Printf("  files:     %d\n", impact.Files)
	fmt.Printf("  functions: %d\n", impact.Functions)
	fmt.Printf("  classes:   %d\n", impact.Classes)
	if len(impact.Direct) > 0 {
		fmt.Println("  direct dependents:")
		for _, e := range impact.Direct {
			fmt.Printf("    %-10s %-30s %s:%d\n", e.Type, e.Name, e.FilePath, e.LineStart)
		}
	}
	if len(impact.Indirect) > 0 {
		fmt.Printf("  indirect dependents: %d\n", len(impact.Indirect))
	}
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	count, err := countPythonFiles(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%d Python files, estimated indexing time %s (%.0fms per file, %d prior runs)\n",
		count, a.estimator.Estimate(count).Round(timePrecision),
		a.estimator.PerFileMs(), a.estimator.TotalRuns())
	return nil
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		MetricsAddr: cfg.Telemetry.MetricsAddr,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Serving metrics on %s/metrics (Ctrl-C to stop)\n", cfg.Telemetry.MetricsAddr)
	<-ctx.Done()
	return shutdown(context.Background())
}

// countPythonFiles applies the same discovery rules as the indexer.
func countPythonFiles(root string) (int, error) {
	filter := index.NewIgnoreFilter(root)
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && filter.ShouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".py") && !filter.ShouldIgnore(path) {
			count++
		}
		return nil
	})
	return count, err
}
