// Command foreman runs (or talks to) a query-coordination core node: the
// Foreman state machine, fragment dispatcher, and work event bus
// described in this module. A cobra root command, persistent flags bound
// through pkg/config, and one subcommand per operator action.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/foreman/pkg/config"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/rpc"
	"github.com/cuemby/foreman/pkg/types"
)

var (
	// Version information (set via ldflags during build).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - distributed SQL query coordination core",
	Long: `Foreman plans a submitted query into a DAG of execution
fragments, distributes them across the cluster, tracks their lifecycle
through terminal states, and returns a result to the client.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"foreman version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	config.BindFlags(rootCmd, config.Default())

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a coordinator node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromFlags(cmd)
		if err != nil {
			return fmt.Errorf("read configuration: %w", err)
		}

		self := types.Endpoint{NodeID: cfg.BindAddr, Address: cfg.BindAddr}

		n, err := newNode(self, cfg)
		if err != nil {
			return fmt.Errorf("initialize node: %w", err)
		}
		defer n.Close()

		server, err := rpc.NewServer(cfg.BindAddr, &gatewayServer{n: n})
		if err != nil {
			return fmt.Errorf("start rpc server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.Serve(); err != nil {
				errCh <- fmt.Errorf("rpc server error: %w", err)
			}
		}()

		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()

		membershipCtx, cancelMembership := context.WithCancel(context.Background())
		go n.membership.Run(membershipCtx)
		defer cancelMembership()

		metrics.SetVersion(Version)
		metrics.MarkSubsystemReady("rpc", true, "listening on "+cfg.BindAddr)

		fmt.Printf("foreman coordinator listening on %s\n", cfg.BindAddr)
		fmt.Printf("metrics: http://%s/metrics\n", cfg.MetricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nshutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}

		server.Stop()
		fmt.Println("shutdown complete")
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [plan]",
	Short: "Submit a query to a running coordinator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("coordinator")
		planType, _ := cmd.Flags().GetString("type")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		conn, err := rpc.Dial(addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := conn.ClientGateway.SubmitQuery(ctx, &rpc.SubmitQueryRequest{
			Query: rpc.RunQuery{Type: rpc.PlanType(planType), Plan: args[0]},
		})
		if err != nil {
			return fmt.Errorf("submit query: %w", err)
		}

		fmt.Printf("query submitted: %s\n", resp.QueryID)
		fmt.Println("the final result is reported asynchronously by the coordinator's response sender (see its logs); this command does not block on completion")
		return nil
	},
}

func init() {
	submitCmd.Flags().String("coordinator", "127.0.0.1:31010", "coordinator node address")
	submitCmd.Flags().String("type", string(rpc.PlanTypeSQL), "plan type: LOGICAL, PHYSICAL, or SQL")
	submitCmd.Flags().Duration("timeout", 10*time.Second, "RPC timeout for the submission call")
}
