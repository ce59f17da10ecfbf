// Command storacore-node runs a single storage-network peer: it loads
// configuration, brings up the record store and overlay, and hands control
// to the Swarm Driver and Node Logic event loops. Command wiring follows the
// teacher's cmd/synnergy/main.go cobra layout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"storacore/internal/identity"
	"storacore/internal/kadid"
	"storacore/internal/kbucket"
	"storacore/internal/nodelogic"
	"storacore/internal/recordstore"
	"storacore/internal/replication"
	"storacore/internal/swarm"
	"storacore/internal/swarm/externaladdr"
	"storacore/pkg/config"
	"storacore/pkg/nodelog"
)

func main() {
	root := &cobra.Command{Use: "storacore-node"}
	root.AddCommand(startCmd())
	root.AddCommand(keygenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the storage node and join the overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode()
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a node identity under the configured key directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			id, err := identity.LoadOrCreate(cfg.Identity.KeyDir)
			if err != nil {
				return fmt.Errorf("load or create identity: %w", err)
			}
			fmt.Printf("peer id: %x\n", id.Peer)
			return nil
		},
	}
}

// noopPaymentVerifier always reports that no on-chain transaction was
// found. The real chain client is out of scope here; wiring it in requires
// only satisfying nodelogic.PaymentVerifier.
type noopPaymentVerifier struct{}

func (noopPaymentVerifier) VerifyOnChain(_ [32]byte) (kadid.Key, uint64, bool, error) {
	return kadid.Key{}, 0, false, nil
}

func runNode() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := nodelog.SetGlobal(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	id, err := identity.LoadOrCreate(cfg.Identity.KeyDir)
	if err != nil {
		return fmt.Errorf("load or create identity: %w", err)
	}
	log.WithField("peer", fmt.Sprintf("%x", id.Peer)).Info("identity loaded")

	store, err := recordstore.Open(cfg.Storage.DataDir, id.Peer, cfg.Storage.MaxRecords, cfg.Storage.MaxBytes)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}

	table := kbucket.New(id.Peer)
	fetcher := replication.New(id.Peer, table, store)
	extAddr := externaladdr.New(id.Peer)

	driver, err := swarm.New(id.Peer, cfg.Network.ListenAddr, table, store, extAddr, fetcher, cfg.Network.DiscoveryTag)
	if err != nil {
		return fmt.Errorf("start swarm driver: %w", err)
	}

	logic := nodelogic.New(id.Peer, id, store, table, fetcher, noopPaymentVerifier{}, driver.Commands(), driver.Events())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- driver.Run(ctx) }()
	go logic.Run(ctx)

	if len(cfg.Network.BootstrapPeers) > 0 {
		if err := driver.DialSeed(cfg.Network.BootstrapPeers); err != nil {
			log.WithError(err).Warn("dialing bootstrap peers failed")
		}
	}

	for _, addr := range driver.ListenAddrs() {
		log.WithField("addr", addr.String()).Info("listening")
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return driver.Close()
	case err := <-errCh:
		return err
	}
}
