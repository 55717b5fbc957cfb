// Command popfetch is a demonstration POP3 client built on
// internal/pop3engine and internal/connector: it connects to one mailbox,
// authenticates, lists and fetches messages, and quits. It never deletes
// messages.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/inboxkit/pop3client/internal/config"
	"github.com/inboxkit/pop3client/internal/connector"
	"github.com/inboxkit/pop3client/internal/logging"
	"github.com/inboxkit/pop3client/internal/metrics"
	"github.com/inboxkit/pop3client/internal/pop3engine"
)

var (
	colorOk   = color.New(color.FgGreen)
	colorErr  = color.New(color.FgRed)
	colorWarn = color.New(color.FgYellow)
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	var collector metrics.Collector = metrics.NoopCollector{}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector = metrics.NewPrometheusCollector(registry)
	}
	server := fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port)
	observer := metrics.NewObserverBridge(server, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewHTTPServer(cfg.Metrics.Address, registry)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		logger.Info("metrics server started", zap.String("address", cfg.Metrics.Address))
	}

	if err := run(ctx, cfg, logger, observer); err != nil {
		colorErr.Fprintf(os.Stderr, "popfetch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, observer pop3engine.Observer) error {
	connCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.ConnectTimeout())
	defer cancel()

	opts := connector.Options{
		Security: securityFromPolicy(cfg.Security),
		ProxyURL: cfg.ProxyURL,
	}
	opts.TLSConfig = &tls.Config{MinVersion: cfg.TLS.MinTLSVersion()}
	if cfg.TLS.InsecureSkipVerify {
		opts.TLSConfig = insecureTLSConfig(cfg)
	}

	logger.Info("connecting", zap.String("host", cfg.Hostname), zap.Int("port", cfg.Port))
	engine, err := connector.Connect(connCtx, cfg.Hostname, cfg.Port, opts, observer)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		_ = engine.Disconnect(ctx, nil)
	}()

	colorOk.Println("connected:", engine.Metadata().Implementation)

	auth := pop3engine.NewAuthenticator(engine)
	mechanisms := mechanismFactory(cfg.Auth)
	authCtx, authCancel := context.WithTimeout(ctx, cfg.Timeouts.CommandTimeout())
	defer authCancel()
	if err := auth.Authenticate(authCtx, cfg.Auth.Username, cfg.Auth.Password, mechanisms); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	colorOk.Println("authenticated as", cfg.Auth.Username)

	count, _ := engine.MessageCount()
	logger.Info("mailbox opened", zap.Int("messages", count))

	var entries []pop3engine.ListEntry
	listCmd := engine.ListAll(&entries)
	runCtx, runCancel := context.WithTimeout(ctx, cfg.Timeouts.CommandTimeout())
	defer runCancel()
	if err := engine.Run(runCtx, true); err != nil {
		return fmt.Errorf("LIST: %w", err)
	}
	if err := listCmd.ThrowIfError(); err != nil {
		return err
	}

	for _, entry := range entries {
		retrCtx, retrCancel := context.WithTimeout(ctx, cfg.Timeouts.CommandTimeout())
		retrCmd := engine.Retr(entry.Index)
		err := engine.Run(retrCtx, true)
		retrCancel()
		if err != nil {
			colorWarn.Printf("message %d: %v\n", entry.Index, err)
			continue
		}
		body, _ := retrCmd.UserData.([]byte)
		fmt.Printf("message %d: %d bytes\n", entry.Index, len(body))
	}

	quitCtx, quitCancel := context.WithTimeout(ctx, cfg.Timeouts.CommandTimeout())
	defer quitCancel()
	engine.Quit()
	return engine.Run(quitCtx, false)
}

func insecureTLSConfig(cfg config.Config) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         cfg.TLS.MinTLSVersion(),
	}
}

func securityFromPolicy(p config.SecurityPolicy) connector.Security {
	switch p {
	case config.SecurityNone:
		return connector.SecurityNone
	case config.SecuritySSL:
		return connector.SecuritySslOnConnect
	case config.SecurityStartTLS:
		return connector.SecurityStartTLS
	case config.SecurityOpport:
		return connector.SecurityStartTLSWhenAvailable
	default:
		return connector.SecurityAuto
	}
}

// mechanismFactory builds SASL/SCRAM mechanisms for the names the caller
// configured (every name below when none are configured). The Authenticator
// asks for them in RankMechanisms' strength order; the order of the
// configured list is not used.
func mechanismFactory(auth config.AuthConfig) pop3engine.MechanismFactory {
	return func(name string) (pop3engine.Mechanism, bool) {
		if len(auth.SaslMechanisms) > 0 {
			allowed := false
			for _, m := range auth.SaslMechanisms {
				if strings.EqualFold(m, name) {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, false
			}
		}
		switch name {
		case "SCRAM-SHA-256":
			mech, err := pop3engine.NewScramSHA256Mechanism(auth.Username, auth.Password, "")
			if err != nil {
				return nil, false
			}
			return mech, true
		case "SCRAM-SHA-512":
			mech, err := pop3engine.NewScramSHA512Mechanism(auth.Username, auth.Password, "")
			if err != nil {
				return nil, false
			}
			return mech, true
		case "PLAIN":
			return pop3engine.NewPlainMechanism("", auth.Username, auth.Password), true
		case "LOGIN":
			return pop3engine.NewLoginMechanism(auth.Username, auth.Password), true
		default:
			return nil, false
		}
	}
}
