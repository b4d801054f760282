package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cubenet/core"
	"cubenet/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "cubenet"}
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a cubenet node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "configuration overlay name")
	return cmd
}

func runServe(cfg *config.Config) error {
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	store := core.NewCubeStore(backend, cfg.Store.Difficulty)
	if cfg.Retention.Enabled {
		past, err := time.ParseDuration(cfg.Retention.Past)
		if err != nil {
			return fmt.Errorf("retention.past: %w", err)
		}
		future, err := time.ParseDuration(cfg.Retention.Future)
		if err != nil {
			return fmt.Errorf("retention.future: %w", err)
		}
		store = store.WithRetention(past, future)
	}

	peerDB := core.NewPeerDB()

	var advertise *core.Address
	if cfg.Node.AdvertiseAddr != "" {
		addr, err := parseTCPAddr(cfg.Node.AdvertiseAddr)
		if err != nil {
			return fmt.Errorf("advertise_addr: %w", err)
		}
		advertise = &addr
	}

	manager, err := core.NewNetworkManager(store, peerDB, core.NetworkManagerOptions{
		LightNode:           cfg.Node.LightNode,
		PeerExchangeEnabled: cfg.Node.PeerExchangeEnabled,
		MyServerAddress:     advertise,
		MaxConnections:      cfg.Peers.MaxConnections,
	})
	if err != nil {
		return err
	}

	listenAddr, err := parseTCPAddr(cfg.Node.ListenAddr)
	if err != nil {
		return fmt.Errorf("node.listen_addr: %w", err)
	}
	server, err := core.ListenTCP(listenAddr, manager)
	if err != nil {
		return err
	}
	logrus.WithField("address", listenAddr.String()).Info("cubenet: listening")

	for _, raw := range cfg.Peers.BootstrapAddresses {
		addr, err := parseTCPAddr(raw)
		if err != nil {
			logrus.WithError(err).WithField("address", raw).Warn("cubenet: skipping bad bootstrap address")
			continue
		}
		peerDB.LearnPeer(addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("cubenet: shutting down")
	_ = server.Close()
	manager.Shutdown()
	return nil
}

func buildBackend(cfg *config.Config) (core.Backend, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case "", "memory":
		return core.NewMemoryBackend(), nil
	case "lru":
		capacity := cfg.Store.LRUCapacity
		if capacity <= 0 {
			capacity = 4096
		}
		return core.NewLRUBackend(capacity)
	default:
		return nil, fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
	}
}

func parseTCPAddr(s string) (core.Address, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return core.Address{}, fmt.Errorf("expected host:port, got %q", s)
	}
	host := s[:idx]
	port, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return core.Address{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return core.TCPAddress(host, uint16(port)), nil
}
