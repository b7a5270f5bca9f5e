package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ignatij/flowmirror/internal/config"
	internal_http "github.com/ignatij/flowmirror/internal/http"
	"github.com/ignatij/flowmirror/internal/log"
	internal_storage "github.com/ignatij/flowmirror/internal/storage"
	"github.com/ignatij/flowmirror/pkg/models"
	"github.com/ignatij/flowmirror/pkg/remote"
	"github.com/ignatij/flowmirror/pkg/service"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local workflow mirror against the remote engine",
		Run: func(cmd *cobra.Command, args []string) {
			store, svcs := initServices(cmd)
			defer store.Close()
			result, err := svcs.Sync.Sync(context.Background())
			if err != nil {
				log.GetLogger().Errorf("Failed to sync workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to sync workflows: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Synced: %d added, %d updated, %d removed, %d errors\n",
				result.Added, result.Updated, result.Removed, len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stdout, "  error: %s\n", e)
			}
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored workflows",
		Run: func(cmd *cobra.Command, args []string) {
			store, _ := initServices(cmd)
			defer store.Close()
			workflows, err := store.ListWorkflows()
			if err != nil {
				log.GetLogger().Errorf("Failed to list workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
				os.Exit(1)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Workflows:\n")
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %d, Remote: %s, Name: %s, Trigger: %s, Active: %t, Synced: %t, Runs: %d (%d ok / %d failed, avg %.0fms)\n",
					wf.ID, wf.RemoteID, wf.Name, wf.TriggerType, wf.Active, wf.Synced,
					wf.TotalExecutions, wf.SuccessfulExecutions, wf.FailedExecutions, wf.AvgExecutionTimeMs)
			}
		},
	}

	dispatchCmd := &cobra.Command{
		Use:   "dispatch [workflow-id]",
		Short: "Trigger a remote run of a mirrored workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workflowID := parseID(args[0])
			input, _ := cmd.Flags().GetString("input")
			org, _ := cmd.Flags().GetString("org")
			user, _ := cmd.Flags().GetString("user")
			store, svcs := initServices(cmd)
			defer store.Close()
			result, err := svcs.Dispatch.Dispatch(context.Background(), workflowID, org, user, json.RawMessage(input), models.ManualSource)
			if err != nil {
				log.GetLogger().Errorf("Failed to dispatch workflow %d: %v", workflowID, err)
				fmt.Fprintf(os.Stderr, "Error: dispatch failed (execution %d): %v\n", result.ExecutionID, err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Dispatched workflow %d: execution %d, remote id %q\n",
				workflowID, result.ExecutionID, result.RemoteExecutionID)
		},
	}
	dispatchCmd.Flags().String("input", "{}", "JSON input payload")
	dispatchCmd.Flags().String("org", "", "Organization identifier")
	dispatchCmd.Flags().String("user", "", "User identifier")

	executionsCmd := &cobra.Command{
		Use:   "executions [workflow-id]",
		Short: "List executions of a workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workflowID := parseID(args[0])
			store, _ := initServices(cmd)
			defer store.Close()
			executions, err := store.ListExecutions(workflowID)
			if err != nil {
				log.GetLogger().Errorf("Failed to list executions: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list executions: %v\n", err)
				os.Exit(1)
			}
			if len(executions) == 0 {
				fmt.Fprintf(os.Stdout, "No executions found.\n")
				return
			}
			for _, e := range executions {
				fmt.Fprintf(os.Stdout, "- ID: %d, Status: %s, Remote: %s, Started: %s\n",
					e.ID, e.Status, e.RemoteExecutionID, e.StartedAt.Format(time.RFC3339))
			}
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile [execution-id]",
		Short: "Poll the remote engine for an execution's outcome",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			executionID := parseID(args[0])
			attempts, _ := cmd.Flags().GetInt("attempts")
			interval, _ := cmd.Flags().GetDuration("interval")
			store, svcs := initServices(cmd)
			defer store.Close()
			result, err := svcs.Reconcile.Reconcile(context.Background(), executionID, attempts, interval)
			if err != nil {
				log.GetLogger().Errorf("Failed to reconcile execution %d: %v", executionID, err)
				fmt.Fprintf(os.Stderr, "Error: failed to reconcile execution: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Execution %d: %s\n", executionID, result.Status)
		},
	}
	reconcileCmd.Flags().Int("attempts", service.DefaultMaxAttempts, "Maximum poll attempts")
	reconcileCmd.Flags().Duration("interval", service.DefaultPollInterval, "Delay between polls")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FlowMirror HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			port, _ := cmd.Flags().GetString("port")
			store, svcs := initServices(cmd)
			defer store.Close()
			svcs.Worker.Start(0)
			defer svcs.Worker.Stop()
			if err := internal_http.StartServer(port, svcs); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "Port to listen on")

	rootCmd.AddCommand(syncCmd, listCmd, dispatchCmd, executionsCmd, reconcileCmd, serveCmd)
}

func initServices(cmd *cobra.Command) (*internal_storage.PostgresStore, internal_http.Services) {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	if dbConnStr == "" {
		dbConnStr, err = config.DBConnStr()
		if err != nil {
			log.GetLogger().Errorf("No database configured: %v", err)
			fmt.Fprintf(os.Stderr, "Error: no database configured: %v\n", err)
			os.Exit(1)
		}
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}

	logger := log.GetLogger()
	remoteCfg := config.LoadRemote()
	orgID := os.Getenv("FLOW_ORG_ID")
	client := remote.NewCatalogClient(remoteCfg, nil, logger)
	stats := service.NewStatisticsAggregator(store, logger)
	reconciler := service.NewReconcileService(store, client, stats, logger)
	svcs := internal_http.Services{
		Store:     store,
		Sync:      service.NewSyncService(store, client, remoteCfg.BaseURL, orgID, logger),
		Dispatch:  service.NewDispatchService(store, client, stats, logger),
		Reconcile: reconciler,
		Worker:    service.NewReconcileWorker(reconciler, service.DefaultMaxAttempts, service.DefaultPollInterval, time.Minute, service.DefaultOrphanAfter, logger),
	}
	return store, svcs
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		log.GetLogger().Errorf("Error parsing id as number: %v", err)
		fmt.Fprintf(os.Stderr, "Error parsing id as number: %v\n", err)
		os.Exit(1)
	}
	return id
}
