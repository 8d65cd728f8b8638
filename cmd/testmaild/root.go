package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"testmaild/auth"
	"testmaild/config"
	"testmaild/logging"
	"testmaild/mailbox"
	"testmaild/metrics"
	"testmaild/pop3server"
	"testmaild/smtpserver"
	"testmaild/tlsfactory"
)

var rootCmd = &cobra.Command{
	Use:   "testmaild",
	Short: "testmaild SMTP/POP3 test-double mail server",
	Long:  "testmaild accepts SMTP deliveries and serves them back over POP3, for testing mail clients and integrations without talking to a real mail provider.",
	RunE:  run,
}

func run(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(cmd.Flags(), cfgPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.LogConfig)
	if err != nil {
		return fmt.Errorf("testmaild: init logger: %w", err)
	}

	store := mailbox.NewMailboxStore()
	if user, _ := cmd.Flags().GetString("seed-user"); user != "" {
		secret, _ := cmd.Flags().GetString("seed-secret")
		email, _ := cmd.Flags().GetString("seed-email")
		store.AddMailbox(user, secret, email)
	}

	registry := auth.NewRegistry()

	var recorder metrics.Recorder = metrics.NoOp()
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go http.ListenAndServe(cfg.MetricsAddr, mux)
	}

	var tlsCfg *tls.Config
	if cfg.TLSEnabled {
		tlsCfg, err = tlsfactory.NewServerTLSConfig(cfg.Hostname)
		if err != nil {
			return fmt.Errorf("testmaild: generate TLS cert: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	smtpSrv := smtpserver.NewServer(smtpserver.Config{
		Hostname:               cfg.Hostname,
		Addr:                   cfg.SMTPAddr,
		TLSConfig:              tlsCfg,
		AuthenticationRequired: cfg.AuthenticationRequired,
		Recorder:               recorder,
	}, store, registry, logger)

	pop3Srv := pop3server.NewServer(pop3server.Config{
		Hostname:  cfg.Hostname,
		Addr:      cfg.POP3Addr,
		TLSConfig: tlsCfg,
		Recorder:  recorder,
	}, store, registry, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- smtpSrv.ListenAndServe(ctx) }()
	go func() { errCh <- pop3Srv.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		cancel()
		return err
	}
}

// RegisterFlags registers the root command's local flags.
func RegisterFlags() {
	f := rootCmd.Flags()
	f.String("config", "", "Configuration file path")
	f.String("hostname", config.DefaultHostname, "Hostname advertised in banners and TLS certs")
	f.String("smtp-addr", config.DefaultSMTPAddr, "SMTP listen address")
	f.String("pop3-addr", config.DefaultPOP3Addr, "POP3 listen address")
	f.Bool("auth-required", false, "Require AUTH before MAIL/RCPT")
	f.Bool("tls-enabled", false, "Enable implicit TLS with a generated self-signed certificate")
	f.String("metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
	f.String("seed-user", "", "Seed a single mailbox username at startup")
	f.String("seed-secret", "", "Seed mailbox secret (used with --seed-user)")
	f.String("seed-email", "", "Seed mailbox email address (used with --seed-user)")
}

// Execute sets the version and runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	RegisterFlags()
	return rootCmd.Execute()
}
