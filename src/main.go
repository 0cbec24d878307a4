package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jacokyle01/remote-uci/src/config"
	"github.com/jacokyle01/remote-uci/src/hardware"
	"github.com/jacokyle01/remote-uci/src/primaryserver"
	"github.com/jacokyle01/remote-uci/src/telemetry"
	"github.com/jacokyle01/remote-uci/src/worker"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "remote-uci",
		Short:        "Provide a local UCI engine as a remote analysis backend",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().String("config", "remote-uci.yaml", "path to the YAML config file")
	root.PersistentFlags().String("env", ".env", "path to a dotenv file loaded before the config")

	provide := &cobra.Command{
		Use:   "provide",
		Short: "Run the engine and serve analysis requests from the relay",
		RunE:  runProvide,
	}
	provide.Flags().String("engine", "", "engine executable, overrides engine.path")
	provide.Flags().String("relay", "", "relay websocket URL, overrides relay.url")

	registration := &cobra.Command{
		Use:   "registration",
		Short: "Start the engine once and print the registration URL",
		RunE:  runRegistration,
	}
	registration.Flags().String("engine", "", "engine executable, overrides engine.path")
	registration.Flags().String("relay", "", "relay websocket URL, overrides relay.url")

	broker := &cobra.Command{
		Use:   "broker",
		Short: "Run a local broker that queues jobs for one provider",
		RunE:  runBroker,
	}
	broker.Flags().String("bind", "", "listen address, overrides broker.bind")

	root.AddCommand(provide, registration, broker)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envPath, err := cmd.Flags().GetString("env")
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(envPath); err != nil {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("engine"); f != nil && f.Value.String() != "" {
		cfg.Engine.Path = f.Value.String()
	}
	if f := cmd.Flags().Lookup("relay"); f != nil && f.Value.String() != "" {
		cfg.Relay.URL = f.Value.String()
	}
	if f := cmd.Flags().Lookup("bind"); f != nil && f.Value.String() != "" {
		cfg.Broker.Bind = f.Value.String()
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// provider is everything needed to run one engine behind the relay.
type provider struct {
	cfg    *config.Config
	log    *slog.Logger
	limits worker.Limits
	sup    *worker.Supervisor
	secret string
}

func newProvider(cfg *config.Config, log *slog.Logger) (*provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enginePath := hardware.SelectEngine(hardware.Builds{
		VNNI512:     cfg.Engine.ByCPU.VNNI512,
		AVX512:      cfg.Engine.ByCPU.AVX512,
		BMI2:        cfg.Engine.ByCPU.BMI2,
		AVX2:        cfg.Engine.ByCPU.AVX2,
		SSE41Popcnt: cfg.Engine.ByCPU.SSE41Popcnt,
		SSSE3:       cfg.Engine.ByCPU.SSSE3,
		SSE3Popcnt:  cfg.Engine.ByCPU.SSE3Popcnt,
		Default:     cfg.Engine.Path,
	}, hardware.Detect())
	log.Info("selected engine", "path", enginePath)

	secret, err := worker.LoadSecret(cfg.Relay.SecretFile)
	if err != nil {
		return nil, err
	}

	sup := worker.NewSupervisor(
		worker.ExecLauncher(enginePath, cfg.Engine.Args, cfg.Engine.WorkingDir),
		worker.SupervisorOptions{
			HandshakeTimeout: cfg.Bridge.HandshakeTimeout.D(),
			QuitGrace:        cfg.Bridge.QuitGrace.D(),
		},
		log,
	)

	return &provider{
		cfg: cfg,
		log: log,
		limits: worker.Limits{
			MaxThreads: hardware.ThreadLimit(cfg.Engine.MaxThreads),
			MaxHash:    hardware.HashLimit(cfg.Engine.MaxHash),
		},
		sup:    sup,
		secret: secret,
	}, nil
}

func (p *provider) settings() []worker.Setting {
	names := make([]string, 0, len(p.cfg.Engine.Options))
	for name := range p.cfg.Engine.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]worker.Setting, 0, len(names))
	for _, name := range names {
		out = append(out, worker.Setting{Name: name, Value: p.cfg.Engine.Options[name]})
	}
	return out
}

func (p *provider) registrationURL(st worker.Status) (string, error) {
	reg := worker.NewRegistration(st.Capabilities, p.cfg.Relay.URL, p.secret, p.cfg.Engine.Name, p.limits, p.cfg.Registration.OfficialStockfish)
	return reg.URL(p.cfg.Registration.URL)
}

func runProvide(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	p, err := newProvider(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	metrics, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Insecure: cfg.Telemetry.Insecure,
		Service:  "remote-uci",
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	bridge := worker.NewBridge(p.sup, worker.BridgeOptions{
		StopWatchdog:      cfg.Bridge.StopWatchdog.D(),
		RestartBackoff:    cfg.Bridge.RestartBackoff.D(),
		MaxRestartBackoff: cfg.Bridge.MaxRestartBackoff.D(),
		MaxFailures:       cfg.Bridge.MaxConsecutiveFailures,
		Settings:          p.settings(),
		Limits:            p.limits,
	}, metrics, log)

	client := worker.NewClient(cfg.Relay.URL, p.secret, bridge, worker.RelayOptions{
		ReconnectBackoff:    cfg.Relay.ReconnectBackoff.D(),
		MaxReconnectBackoff: cfg.Relay.MaxReconnectBackoff.D(),
		WriteTimeout:        cfg.Relay.WriteTimeout.D(),
	}, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridgeErr := make(chan error, 1)
	go func() {
		bridgeErr <- bridge.Run(ctx)
		cancel()
	}()

	go func() {
		select {
		case <-bridge.Ready():
		case <-ctx.Done():
			return
		}
		url, err := p.registrationURL(bridge.Status())
		if err != nil {
			log.Error("cannot build registration url", "err", err)
			return
		}
		log.Info("engine ready, register this provider", "url", url)
	}()

	if err := client.WorkLoop(ctx); err != nil {
		log.Error("relay stopped", "err", err)
	}
	cancel()
	return <-bridgeErr
}

func runRegistration(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	p, err := newProvider(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	caps, err := p.sup.Start(ctx, p.settings())
	if err != nil {
		return err
	}
	defer func() {
		if err := p.sup.Terminate(context.Background()); err != nil {
			log.Warn("stopping engine", "err", err)
		}
	}()

	url, err := p.registrationURL(worker.Status{Capabilities: caps})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), url)
	return nil
}

func runBroker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	if cfg.Broker.Secret == "" {
		log.Warn("broker secret not set, any provider may connect")
	}
	if strings.HasPrefix(cfg.Broker.Bind, ":") {
		log.Info("broker listening on all interfaces", "bind", cfg.Broker.Bind)
	}

	ctx, stop := signalContext()
	defer stop()

	srv := primaryserver.NewServer(cfg.Broker.Secret, log)
	if err := srv.StartServer(ctx, cfg.Broker.Bind); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
