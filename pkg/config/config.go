package config

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/foreman/pkg/types"
)

// Config is the flat set of knobs a coordinator node needs at startup.
// Field names mirror the dotted knob names loosely; the cobra flag names
// are dash-separated forms of them (e.g. --exec-queue-enable for
// exec.queue.enable), and each flag's usage text starts with the dotted
// name.
type Config struct {
	Admission types.AdmissionConfig
	Planner   types.PlannerConfig

	// BindAddr is the address this node's FragmentControl/ClientGateway
	// gRPC server listens on.
	BindAddr string

	// DataDir holds this node's persistence database.
	DataDir string

	// MetricsAddr serves /metrics, /health, /ready and /live.
	MetricsAddr string

	// LeafConcurrency bounds the dispatcher's fire-and-forget leaf
	// submission worker pool.
	LeafConcurrency int
}

// Default returns the out-of-the-box configuration: queuing disabled,
// generous planner limits, loopback addresses.
func Default() Config {
	return Config{
		Admission: types.AdmissionConfig{
			Enable:        false,
			ThresholdCost: 1_000_000,
			SmallQueueCap: 100,
			LargeQueueCap: 10,
			QueueTimeout:  30 * time.Second,
		},
		Planner: types.PlannerConfig{
			MaxWidthPerNode:          10,
			MaxQueryMemoryPerNodeMiB: 2048,
		},
		BindAddr:        "127.0.0.1:31010",
		DataDir:         "./foreman-data",
		MetricsAddr:     "127.0.0.1:31011",
		LeafConcurrency: 16,
	}
}

// BindFlags registers every knob as a persistent flag on cmd, defaulted
// from d.
func BindFlags(cmd *cobra.Command, d Config) {
	cmd.PersistentFlags().Bool("exec-queue-enable", d.Admission.Enable, "exec.queue.enable: gate query admission behind a semaphore")
	cmd.PersistentFlags().Int64("exec-queue-threshold", d.Admission.ThresholdCost, "exec.queue.threshold: plan cost above which a query is \"large\"")
	cmd.PersistentFlags().Int64("exec-queue-small", d.Admission.SmallQueueCap, "exec.queue.small: concurrent small-query capacity")
	cmd.PersistentFlags().Int64("exec-queue-large", d.Admission.LargeQueueCap, "exec.queue.large: concurrent large-query capacity")
	cmd.PersistentFlags().Duration("exec-queue-timeout", d.Admission.QueueTimeout, "exec.queue.timeout_millis: admission wait timeout")

	cmd.PersistentFlags().Int64("planner-width-max-per-node", d.Planner.MaxWidthPerNode, "planner.width.max_per_node")
	cmd.PersistentFlags().Int64("planner-memory-max-query-memory-per-node", d.Planner.MaxQueryMemoryPerNodeMiB, "planner.memory.max_query_memory_per_node (MiB)")

	cmd.PersistentFlags().String("bind-addr", d.BindAddr, "address the FragmentControl/ClientGateway gRPC server listens on")
	cmd.PersistentFlags().String("data-dir", d.DataDir, "data directory for the persistent query-transition store")
	cmd.PersistentFlags().String("metrics-addr", d.MetricsAddr, "address the Prometheus metrics endpoint listens on")
	cmd.PersistentFlags().Int("leaf-concurrency", d.LeafConcurrency, "bounded worker pool size for leaf-phase fragment submission")
}

// FromFlags reads back every flag BindFlags registered into a Config.
func FromFlags(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	var cfg Config
	var err error

	get := func(f func() error) {
		if err == nil {
			err = f()
		}
	}

	get(func() (e error) { cfg.Admission.Enable, e = flags.GetBool("exec-queue-enable"); return })
	get(func() (e error) { cfg.Admission.ThresholdCost, e = flags.GetInt64("exec-queue-threshold"); return })
	get(func() (e error) { cfg.Admission.SmallQueueCap, e = flags.GetInt64("exec-queue-small"); return })
	get(func() (e error) { cfg.Admission.LargeQueueCap, e = flags.GetInt64("exec-queue-large"); return })
	get(func() (e error) { cfg.Admission.QueueTimeout, e = flags.GetDuration("exec-queue-timeout"); return })

	get(func() (e error) { cfg.Planner.MaxWidthPerNode, e = flags.GetInt64("planner-width-max-per-node"); return })
	get(func() (e error) {
		cfg.Planner.MaxQueryMemoryPerNodeMiB, e = flags.GetInt64("planner-memory-max-query-memory-per-node")
		return
	})

	get(func() (e error) { cfg.BindAddr, e = flags.GetString("bind-addr"); return })
	get(func() (e error) { cfg.DataDir, e = flags.GetString("data-dir"); return })
	get(func() (e error) { cfg.MetricsAddr, e = flags.GetString("metrics-addr"); return })
	get(func() (e error) { cfg.LeafConcurrency, e = flags.GetInt("leaf-concurrency"); return })

	return cfg, err
}
