package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mendhq/mend/pkg/api"
	"github.com/mendhq/mend/pkg/audit"
	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/config"
	"github.com/mendhq/mend/pkg/evaluator"
	"github.com/mendhq/mend/pkg/events"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/loop"
	"github.com/mendhq/mend/pkg/policy"
	"github.com/mendhq/mend/pkg/runner"
	"github.com/mendhq/mend/pkg/signals"
	"github.com/mendhq/mend/pkg/verify"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "mend",
	Short: "Mend - Closed-loop remediation controller",
	Long: `Mend watches anomaly and root-cause signals for containerized
workloads and closes the loop: it evaluates policy rules, applies
guardrails, executes scale and restart actions, and verifies that
each rollout actually converged.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Mend version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(policyCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remediation controller",
	Long: `Start the controller: load policy rules, open the audit log and
workload database, start the closed-loop worker and serve the HTTP API
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		return serve(cfgPath)
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with policy rule files",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a rule file and report errors without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read rules: %v", err)
		}
		policies, err := policy.Parse(string(data))
		if err != nil {
			return fmt.Errorf("invalid rules: %v", err)
		}
		fmt.Printf("✓ %s: %d policies\n", args[0], len(policies))
		for _, p := range policies {
			fmt.Printf("  %s (priority %d, %d conditions, %s)\n",
				p.Name, p.Priority, len(p.Conditions), p.Action.Kind)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file (or MEND_CONFIG)")
	policyCmd.AddCommand(policyValidateCmd)
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	store := policy.NewStore(cfg.Policy.Path)
	store.SetBroker(broker)
	if res := store.Reload(); !res.OK {
		// The controller still comes up; rules can be fixed and reloaded live
		fmt.Fprintf(os.Stderr, "Warning: policy load failed: %s\n", res.Error)
	} else {
		fmt.Printf("✓ Loaded %d policies from %s\n", res.PolicyCount, res.SourcePath)
	}

	client, err := cluster.NewBoltClient(cfg.Cluster.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open workload database: %v", err)
	}
	defer client.Close()
	fmt.Println("✓ Workload database ready")

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %v", err)
	}
	defer auditLog.Close()
	fmt.Printf("✓ Audit log at %s\n", auditLog.Path())

	resolver := cluster.Resolver{
		Namespace: cfg.Cluster.Namespace,
		Prefix:    cfg.Cluster.NamePrefix,
	}

	eval := evaluator.New(evaluator.Config{
		MinReplicas:     cfg.Evaluator.MinReplicas,
		MaxReplicas:     cfg.Evaluator.MaxReplicas,
		RestartCooldown: secs(cfg.Evaluator.RestartCooldownSeconds),
	}, store, auditLog, resolver)

	run := runner.New(runner.Config{
		MaxRetries:  cfg.Runner.MaxRetries,
		BaseBackoff: cfg.Runner.BaseBackoff,
		MaxBackoff:  cfg.Runner.MaxBackoff,
		MinReplicas: cfg.Evaluator.MinReplicas,
		MaxReplicas: cfg.Evaluator.MaxReplicas,
	}, client)

	verifier := verify.New(verify.Config{
		Timeout:      cfg.Verify.Timeout,
		PollInterval: cfg.Verify.PollInterval,
	}, client)

	lp := loop.New(loop.Config{
		Cooldown:            secs(cfg.Loop.CooldownSeconds),
		MaxRetries:          cfg.Loop.MaxRetries,
		BaseBackoff:         secs(cfg.Loop.BaseBackoffSeconds),
		MaxActionsPerHour:   cfg.Loop.MaxActionsPerHour,
		MaxReplicas:         cfg.Loop.MaxReplicas,
		MaxScaleIncrease15m: cfg.Loop.MaxScaleIncrease15m,
		QueueMaxSize:        cfg.Loop.QueueMaxSize,
	}, client, run, verifier, auditLog, broker, resolver)

	stopCh := make(chan struct{})
	go lp.Run(stopCh)
	fmt.Println("✓ Closed-loop worker started")

	if cfg.Policy.Watch {
		go func() {
			if err := store.Watch(stopCh); err != nil {
				log.WithComponent("main").Error().Err(err).Msg("Policy watch stopped")
			}
		}()
		fmt.Println("✓ Watching rule file for changes")
	}

	server := api.NewServer(api.Config{
		Address:         cfg.Server.Address,
		GracefulTimeout: cfg.Server.GracefulTimeout,
	}, api.Deps{
		Policies:  store,
		Evaluator: eval,
		Loop:      lp,
		Signals:   signals.NewStore(0),
		Audit:     auditLog,
		Cluster:   client,
		Runner:    run,
		Verifier:  verifier,
		Events:    broker,
		Namespace: cfg.Cluster.Namespace,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	fmt.Printf("\nController is running on %s. Press Ctrl+C to stop.\n", cfg.Server.Address)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stopCh)
		return err
	case <-sigCh:
		fmt.Println("\nShutting down...")
		close(stopCh)
		if err := server.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %v", err)
		}
		fmt.Println("✓ Stopped cleanly")
		return nil
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
