// Command relay runs the Disphorea board relay.
//
// The relay mediates between end users, who never hold gas funds, and the
// on-chain group-membership and proof-verification contract. It issues
// join challenges, relays NFT-gated group joins, forwards proof bundles to
// the verification contract with a single relayer key, and serves the
// pseudonymous post feed.
//
// Configuration comes from RELAY_-prefixed environment variables with
// flag overrides:
//
//	RELAY_RPC_URL=http://127.0.0.1:8545 \
//	RELAY_RELAYER_PRIVATE_KEY=0x... \
//	go run ./cmd/relay --contracts config/contracts.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/tomosaigon/disphorea/board"
	"github.com/tomosaigon/disphorea/chain"
	"github.com/tomosaigon/disphorea/challenge"
	cmdcommon "github.com/tomosaigon/disphorea/cmd/common"
	"github.com/tomosaigon/disphorea/common"
	"github.com/tomosaigon/disphorea/config"
	"github.com/tomosaigon/disphorea/httpserver"
	"github.com/tomosaigon/disphorea/relay"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	var (
		addr          = flag.String("addr", env.ListenAddr, "HTTP listen address")
		metricsAddr   = flag.String("metrics-addr", env.MetricsAddr, "Metrics listen address (empty disables)")
		contractsFile = flag.String("contracts", env.ContractsFile, "Path to the contracts.json deployment record")
		rpcURL        = flag.String("rpc", env.RPCURL, "JSON-RPC node URL")
		boardID       = flag.String("board", env.BoardID, "Board identifier")
		enablePprof   = flag.Bool("pprof", env.EnablePprof, "Enable pprof debug endpoints")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", common.PackageName)

	contracts, err := config.LoadContracts(*contractsFile)
	if err != nil {
		log.Error("Loading deployment record failed", "err", err)
		os.Exit(1)
	}

	salt, err := board.ParseSalt(contracts.BoardSalt)
	if err != nil {
		log.Error("Invalid board salt", "err", err)
		os.Exit(1)
	}

	b, err := board.New(*boardID, salt, contracts.EpochDuration())
	if err != nil {
		log.Error("Invalid board parameters", "err", err)
		os.Exit(1)
	}

	relayerKey, err := cmdcommon.LoadRelayerKey(env.RelayerPrivateKey)
	if err != nil {
		log.Error("Relayer key error", "err", err)
		os.Exit(1)
	}

	if *rpcURL == "" {
		log.Error("RELAY_RPC_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := chain.NewContractClient(ctx, *rpcURL, relayerKey,
		ethcommon.HexToAddress(contracts.Feedback),
		ethcommon.HexToAddress(contracts.NFT),
		log,
	)
	cancel()
	if err != nil {
		log.Error("Chain client error", "err", err)
		os.Exit(1)
	}

	if client.ChainID().Int64() != contracts.ChainID {
		log.Error("Node chain id does not match deployment record",
			"node", client.ChainID().Int64(), "record", contracts.ChainID)
		os.Exit(1)
	}

	issuer, err := challenge.NewIssuer(challenge.Config{
		DomainName:        "Disphorea",
		ChainID:           big.NewInt(contracts.ChainID),
		VerifyingContract: ethcommon.HexToAddress(contracts.Feedback),
		GroupID:           new(big.Int).SetUint64(contracts.GroupID),
		TTL:               env.ChallengeTTL,
	})
	if err != nil {
		log.Error("Challenge issuer error", "err", err)
		os.Exit(1)
	}

	st, err := cmdcommon.OpenStore(env)
	if err != nil {
		log.Error("Store error", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	notifier := cmdcommon.NewNotifier(env.DiscordWebhookURL)

	handler := &relay.Handler{
		Board:      b,
		Contracts:  contracts,
		Issuer:     issuer,
		Membership: relay.NewMembershipRelay(issuer, client, log),
		Feedback:   relay.NewFeedbackRelay(b, client, st, notifier, log, nil),
		Store:      st,
		Notifier:   notifier,
		Log:        log,
	}

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:               *addr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            env.DrainDuration,
		GracefulShutdownDuration: env.GracefulShutdownDuration,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             60 * time.Second,
	}, handler)
	if err != nil {
		log.Error("Server error", "err", err)
		os.Exit(1)
	}

	log.Info("Relay starting",
		"board", b.ID,
		"epochLength", contracts.EpochLength,
		"relayer", client.RelayerAddress().Hex(),
		"feedback", contracts.Feedback,
	)
	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	srv.Shutdown()
}
