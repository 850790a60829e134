package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cometbft/docsync/config"
	"github.com/cometbft/docsync/crdt/refdoc"
	"github.com/cometbft/docsync/libs/log"
	"github.com/cometbft/docsync/p2p/wsadapter"
	"github.com/cometbft/docsync/sync"
	"github.com/cometbft/docsync/wire"
)

func newStartCommand() *cobra.Command {
	var (
		peerID string
		listen string
		peers  []string
		docIDs []string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run docsyncd until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString("home")
			if err != nil {
				return err
			}
			if peerID == "" {
				return fmt.Errorf("--peer-id is required")
			}

			v := viper.New()
			config.BindFlags(v)
			v.SetConfigFile(filepath.Join(home, "config.toml"))
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return err
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			logger := log.NewLogger(cfg.LogFormat)
			reg := prometheus.NewRegistry()
			met := sync.PrometheusMetrics(reg, "peer_id", peerID)

			synchronizer := sync.New(sync.Options{
				Identity:          wire.Identity{PeerID: peerID, Role: wire.RoleUser},
				Factory:           refdoc.NewFactory(peerID),
				HeartbeatInterval: cfg.HeartbeatInterval,
				EphemeralHopLimit: cfg.EphemeralHopLimit,
				Logger:            logger,
				Metrics:           met,
			})

			ws := wsadapter.NewAdapter(synchronizer.Adapters(), logger, cfg.MaxFrameBytes)
			if err := synchronizer.AddAdapter(ws); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				if err := ws.Upgrade(w, r); err != nil {
					logger.Error("websocket upgrade failed", "err", err)
				}
			})
			// /metrics is meant for a Prometheus scraper or an operator's
			// browser dashboard, possibly on a different origin than the
			// docsyncd process; /ws is left unwrapped since CORS is an
			// HTTP-fetch concept that doesn't apply to the websocket
			// upgrade handshake.
			mux.Handle("/metrics", cors.Default().Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
			server := &http.Server{Addr: listen, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server exited", "err", err)
				}
			}()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			for _, addr := range peers {
				if err := ws.Dial(ctx, addr); err != nil {
					logger.Error("dialing peer failed", "addr", addr, "err", err)
				}
			}

			for _, docID := range docIDs {
				synchronizer.EnsureDocument(docID)
			}

			if err := synchronizer.StartHeartbeat(); err != nil {
				return err
			}

			logger.Info("docsyncd started", "peer_id", peerID, "listen", listen)
			waitForSignal()

			logger.Info("docsyncd shutting down")
			_ = synchronizer.StopHeartbeat()
			_ = server.Shutdown(context.Background())
			return nil
		},
	}
	cmd.Flags().StringVar(&peerID, "peer-id", "", "this peer's numeric identifier (required)")
	cmd.Flags().StringVar(&listen, "listen", ":26700", "address to accept inbound websocket connections on")
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "ws:// address of a remote peer to dial (repeatable)")
	cmd.Flags().StringSliceVar(&docIDs, "doc", nil, "docId to ensure locally on startup (repeatable)")
	return cmd
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
