package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/runtime"
	"github.com/radiusguard/radius/internal/server"
	"github.com/radiusguard/radius/internal/state"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "radius",
		Short: "Deterministic policy kernel for autonomous agents",
		Long:  "Radius interposes between an agent and its tools, evaluating every action\nagainst a pipeline of rule-based policy modules. No model in the decision path.",
	}

	var configFile string
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: radius.yaml)")

	// ─── serve ───
	var port int
	var gatewayUpstream string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP policy server (/check, /health)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, port, gatewayUpstream)
		},
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 7800, "HTTP listen port")
	serveCmd.Flags().StringVar(&gatewayUpstream, "gateway-upstream", "", "OpenClaw gateway URL to proxy (enables /gateway)")

	// ─── hook ───
	var framework string
	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Evaluate one payload from stdin and print the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(configFile, framework)
		},
	}
	hookCmd.Flags().StringVarP(&framework, "framework", "f", "generic", "Payload dialect (openclaw, nanobot, claude-telegram, generic)")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter radius.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── doctor ───
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, state store, and sandbox availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(configFile)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("radius %s (%s)\n", version, commit)
		},
	}

	rootCmd.AddCommand(serveCmd, hookCmd, initCmd, doctorCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func runServe(configFile string, port int, gatewayUpstream string) error {
	logger := newLogger()
	rt, err := runtime.New(configFile, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt, logger)
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())

	var gateway *server.GatewayProxy
	if gatewayUpstream != "" {
		gateway = server.NewGatewayProxy(server.GatewayConfig{
			UpstreamURL:     gatewayUpstream,
			AllowAllOrigins: true,
		}, rt, logger)
		mux.Handle("/gateway", gateway)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		if gateway != nil {
			gateway.CloseAll()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}()

	logger.Info("radius serving", "port", port, "gateway", gatewayUpstream != "")
	if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runHook(configFile, framework string) error {
	logger := newLogger()
	rt, err := runtime.New(configFile, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var payload map[string]interface{}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		return fmt.Errorf("invalid payload on stdin: %w", err)
	}

	resp, err := rt.Check(context.Background(), event.Framework(framework), payload)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}

const starterConfig = `# Radius policy kernel configuration.
global:
  profile: standard        # local | standard | unbounded
  workspace: ${CWD}

audit:
  enabled: true
  file: ./radius-audit.jsonl

approval:
  enabled: false
  mode: sync_wait
  # telegram:
  #   botToken: ${RADIUS_TG_TOKEN}
  #   chatIds: [123456789]
  #   approvers: [123456789]

moduleConfig:
  fs_guard:
    allowedPaths: ["${workspace}"]
    blockedPaths: ["~/.ssh", "~/.aws"]
  rate_budget:
    windowSec: 60
    maxCallsPerWindow: 60
`

func runInit() error {
	const path = "radius.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func runDoctor(configFile string) error {
	failed := 0
	check := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Printf("fail  %-22s %v\n", name, err)
			return
		}
		fmt.Printf("ok    %s\n", name)
	}

	cfg, err := config.Load(configFile)
	check("config", err)
	if err != nil {
		os.Exit(1)
	}

	store, err := state.Open(cfg.Approval.Store)
	check("state store", err)
	if store != nil {
		store.Close()
	}

	_, err = exec.LookPath("bwrap")
	if err != nil {
		fmt.Printf("warn  %-22s bwrap not found (exec_sandbox engine=bwrap unavailable)\n", "sandbox")
	} else {
		fmt.Printf("ok    sandbox\n")
	}

	rt, err := runtime.NewWithConfig(cfg, newLogger())
	check("runtime", err)
	if rt != nil {
		rt.Close()
	}

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
