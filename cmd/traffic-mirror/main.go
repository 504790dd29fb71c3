// traffic-mirror is an SPOP agent that shadows proxied requests to a
// secondary backend. HAProxy offloads request metadata over the Stream
// Processing Offload Protocol; the agent replays each request against the
// mirror target and reports the shadow status code back as a transaction
// variable.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/spop-protocol/spop/pkg/agent"
	"github.com/spop-protocol/spop/pkg/config"
	"github.com/spop-protocol/spop/pkg/observability"
)

var (
	cfgFile       string
	bind          string
	mirrorURL     string
	messageName   string
	maxFrameSize  uint32
	metricsBind   string
	mirrorTimeout time.Duration
	debug         bool
)

var rootCmd = &cobra.Command{
	Use:   "traffic-mirror",
	Short: "SPOP agent that mirrors proxied requests to a shadow backend",
	Long: `traffic-mirror speaks the Stream Processing Offload Protocol (SPOP)
to HAProxy. For each NOTIFY message carrying request metadata it issues
the same request against a mirror target and sets txn.mirror_status with
the shadow response code.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "listen address (host:port or unix:/path)")
	rootCmd.Flags().StringVarP(&mirrorURL, "mirror", "m", "", "base URL of the shadow backend (required)")
	rootCmd.Flags().StringVar(&messageName, "message", "mirror-request", "SPOE message name to act on")
	rootCmd.Flags().Uint32Var(&maxFrameSize, "max-frame-size", 0, "advertised max frame size")
	rootCmd.Flags().StringVar(&metricsBind, "metrics-addr", "", "Prometheus scrape address (empty disables)")
	rootCmd.Flags().DurationVar(&mirrorTimeout, "mirror-timeout", 5*time.Second, "per-request timeout against the shadow backend")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = rootCmd.MarkFlagRequired("mirror")
}

func run(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("component", "traffic-mirror").
		Logger()

	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
	}
	// Flags override the file.
	if bind != "" {
		cfg.Bind = bind
	}
	if maxFrameSize != 0 {
		cfg.MaxFrameSize = maxFrameSize
	}
	if metricsBind != "" {
		cfg.MetricsBind = metricsBind
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Info().Str("addr", cfg.MetricsBind).Msg("metrics listener up")
			if err := http.ListenAndServe(cfg.MetricsBind, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	handler := newMirrorHandler(mirrorURL, messageName, mirrorTimeout, log)
	srv := agent.New(handler,
		agent.WithLogger(log),
		agent.WithMetrics(metrics),
		agent.WithMaxFrameSize(cfg.MaxFrameSize),
		agent.WithMaxInFlightStreams(cfg.MaxInFlight),
		agent.WithMaxConnections(cfg.MaxConnections),
		agent.WithHandshakeTimeout(cfg.HandshakeTimeout),
		agent.WithIdleTimeout(cfg.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Bind).Str("mirror", mirrorURL).Msg("agent listening")
		errCh <- srv.ListenAndServe(cfg.Bind)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		srv.Stop()
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
