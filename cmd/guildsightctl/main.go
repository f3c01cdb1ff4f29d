// Package main implements the guildsightctl CLI for manual operations
// against a running guildsight deployment: server health, dead-letter
// inspection and replay, and tenant erasure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/store"
)

var (
	// serverURL is the base URL for the guildsight API server
	serverURL string
	// natsURL is the queue broker address for dead-letter operations
	natsURL string
	// streamName overrides the task stream
	streamName string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guildsightctl",
	Short: "CLI for guildsight operations",
	Long: `guildsightctl is a command-line interface for operating a guildsight
deployment. It provides commands for checking server health, inspecting
and replaying dead-lettered tasks, and erasing tenant data.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8800", "guildsight API server URL")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats", "nats://localhost:4222", "queue broker URL")
	rootCmd.PersistentFlags().StringVar(&streamName, "stream", "", "task stream name (default GUILDSIGHT_TASKS)")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(deadCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(migrateCmd)
	deadCmd.AddCommand(deadListCmd, deadRetryCmd, deadDrainCmd)
	deadListCmd.Flags().Int("limit", 50, "maximum entries to show")
	migrateCmd.Flags().String("store-url", os.Getenv("STORE_URL"), "postgres connection URL")
}

// healthCmd checks the API server
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := http.Get(serverURL + "/health")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	},
}

var deadCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Inspect and replay dead-lettered tasks",
}

var deadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		q, err := connectQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		dead, err := q.DeadTasks(ctx, limit)
		if err != nil {
			return err
		}
		if len(dead) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no dead-lettered tasks")
			return nil
		}
		for _, d := range dead {
			line, err := json.Marshal(d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(line))
		}
		return nil
	},
}

var deadRetryCmd = &cobra.Command{
	Use:   "retry <kind>",
	Short: "Re-enqueue dead-lettered tasks of one kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := connectQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		n, err := q.RetryDead(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "re-enqueued %d task(s) of kind %s\n", n, args[0])
		return nil
	},
}

var deadDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Discard all dead-lettered tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := connectQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		n, err := q.DrainDead(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "discarded %d task(s)\n", n)
		return nil
	},
}

// forgetCmd erases every trace of a tenant
var forgetCmd = &cobra.Command{
	Use:   "forget-tenant <id>",
	Short: "Queue full erasure of a tenant's data",
	Long: `Queue full erasure of a tenant's data: vector points first, then
relational rows. The erasure runs on the high-priority lane and is
irreversible once the purge task executes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid tenant id %q", args[0])
		}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete,
			fmt.Sprintf("%s/api/v1/tenants/%s", serverURL, args[0]), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("erasure request failed: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "erasure queued for tenant %s\n", args[0])
		return nil
	},
}

// migrateCmd rebuilds a tenant's vector index from the store
var migrateCmd = &cobra.Command{
	Use:   "migrate <tenant-id>",
	Short: "Re-embed a tenant's corpus into the hybrid collection",
	Long: `Reset every vector binding for a tenant and queue a full re-index.
The worker re-embeds from the relational store, so this migrates a tenant
from the legacy dense collection to the hybrid one without copying points.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tenant id %q", args[0])
		}
		storeURL, _ := cmd.Flags().GetString("store-url")
		if storeURL == "" {
			return fmt.Errorf("--store-url or STORE_URL is required")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		st, err := store.New(ctx, config.StoreConfig{URL: storeURL}, logging.NewNopLogger())
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
		defer st.Close()

		reset, err := st.ResetVectorBindings(ctx, tenantID, false, nil)
		if err != nil {
			return fmt.Errorf("reset bindings: %w", err)
		}

		q, err := connectQueue()
		if err != nil {
			return err
		}
		defer q.Close()
		task, err := queue.NewTask(queue.KindReindex, tenantID, queue.ReindexPayload{})
		if err != nil {
			return err
		}
		if err := q.EnqueueWithPriority(ctx, task, queue.PriorityLow); err != nil {
			return fmt.Errorf("enqueue reindex: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d binding(s), re-index queued for tenant %d\n", reset, tenantID)
		return nil
	},
}

func connectQueue() (*queue.Queue, error) {
	return queue.New(queue.Config{URL: natsURL, StreamName: streamName}, logging.NewNopLogger())
}
