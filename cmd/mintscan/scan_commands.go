package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/mintscan/service/config"
	"github.com/brojonat/mintscan/service/metrics"
	natspkg "github.com/brojonat/mintscan/service/nats"
	"github.com/brojonat/mintscan/service/solana"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

const metricsJob = "mintscan"

// newPublisher is swapped out in tests.
var newPublisher = func(natsURL string, m *metrics.Metrics, logger *slog.Logger) (natspkg.Publisher, error) {
	p, err := natspkg.NewPublisher(natsURL, m, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mint",
			Aliases: []string{"m"},
			Usage:   "Token mint to report transfers for (default from TRANSFER_MINT)",
		},
		&cli.StringFlag{
			Name:  "type",
			Usage: "Parsed instruction type to match (default from TRANSFER_TYPE)",
		},
		&cli.StringSliceFlag{
			Name:  "must-jq",
			Usage: "jq filter evaluated on the transfer info; all must return a truthy value (can be repeated)",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Print matched transfers as a JSON array instead of the transaction report",
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch transactions by signature and report matching transfers",
		ArgsUsage: "[SIGNATURE...]",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:    "signature",
				Aliases: []string{"s"},
				Usage:   "Transaction signature to fetch (can be repeated)",
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "Cluster alias: mainnet-beta, devnet, testnet, localnet (default from SOLANA_NETWORK)",
			},
			&cli.StringSliceFlag{
				Name:  "rpc-url",
				Usage: "RPC endpoint URL; one is picked at random when repeated (default from SOLANA_RPC_URLS)",
			},
			&cli.StringFlag{
				Name:  "commitment",
				Usage: "Commitment level: processed, confirmed, finalized (default from SOLANA_COMMITMENT)",
			},
			&cli.Uint64Flag{
				Name:  "max-version",
				Usage: "Highest transaction version the node may return (default from MAX_SUPPORTED_TX_VERSION)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for the whole run (default from RPC_TIMEOUT)",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish matched transfers to NATS JetStream",
			},
		}, filterFlags()...),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			signatures := append(c.StringSlice("signature"), c.Args().Slice()...)
			if len(signatures) == 0 {
				return fmt.Errorf("at least one signature is required (use --signature or positional arguments)")
			}

			logger := setupLogger(c.App.ErrWriter, cfg.LogLevel)

			filter, err := buildFilter(c, cfg)
			if err != nil {
				return err
			}

			endpoint, err := cfg.RPCEndpoint()
			if err != nil {
				return fmt.Errorf("failed to select RPC endpoint: %w", err)
			}

			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)
			defer pushMetrics(c, cfg, reg, logger)

			ctx, cancel := context.WithTimeout(c.Context, cfg.RPCTimeout)
			defer cancel()

			label := solana.EndpointLabel(endpoint)
			logger.InfoContext(ctx, "fetching transactions",
				"endpoint", label,
				"count", len(signatures),
				"commitment", cfg.Commitment,
				"mint", cfg.TransferMint,
			)

			client := solana.NewClient(
				solana.NewRPCClient(endpoint),
				label,
				solana.ClientOptions{Commitment: cfg.Commitment},
				m,
				logger,
			)
			txns, err := client.FetchParsedTransactions(ctx, signatures, cfg.MaxSupportedTxVersion)
			if err != nil {
				return fmt.Errorf("failed to fetch transactions: %w", err)
			}

			matches, err := report(ctx, c, filter, txns, m, logger)
			if err != nil {
				return err
			}

			if c.Bool("publish") {
				if err := publishMatches(ctx, cfg, matches, m, logger); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Report matching transfers from stored jsonParsed transactions",
		Description: `Reads a JSON array of getTransaction results (jsonParsed encoding; null
entries allowed) and runs the same report as fetch, without touching the network.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Path to the JSON file, or - for stdin",
				Value:   "-",
			},
		}, filterFlags()...),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(c.App.ErrWriter, cfg.LogLevel)

			filter, err := buildFilter(c, cfg)
			if err != nil {
				return err
			}

			txns, err := readTransactions(c.App.Reader, c.String("file"))
			if err != nil {
				return err
			}

			_, err = report(c.Context, c, filter, txns, nil, logger)
			return err
		},
	}
}

// loadConfig reads env configuration, applies CLI overrides and any extra
// adjustments, then validates the result once.
func loadConfig(c *cli.Context, adjust ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = c.String("log-level")
	cfg.NATSURL = c.String("nats-url")
	cfg.PushgatewayURL = c.String("pushgateway-url")

	if c.IsSet("mint") {
		cfg.TransferMint = c.String("mint")
	}
	if c.IsSet("type") {
		cfg.TransferType = c.String("type")
	}
	if c.IsSet("network") {
		cfg.SolanaNetwork = c.String("network")
	}
	if c.IsSet("rpc-url") {
		cfg.SolanaRPCURLs = c.StringSlice("rpc-url")
	}
	if c.IsSet("commitment") {
		cfg.Commitment = rpc.CommitmentType(c.String("commitment"))
	}
	if c.IsSet("max-version") {
		cfg.MaxSupportedTxVersion = c.Uint64("max-version")
	}
	if c.IsSet("timeout") {
		cfg.RPCTimeout = c.Duration("timeout")
	}
	for _, fn := range adjust {
		fn(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildFilter(c *cli.Context, cfg *config.Config) (solana.TransferFilter, error) {
	codes, err := solana.CompileJQ(c.StringSlice("must-jq"))
	if err != nil {
		return solana.TransferFilter{}, err
	}
	return solana.TransferFilter{
		Type: cfg.TransferType,
		Mint: cfg.TransferMint,
		JQ:   codes,
	}, nil
}

// report runs the processor. With --json the human report is suppressed and
// the matches are printed as one JSON array.
func report(
	ctx context.Context,
	c *cli.Context,
	filter solana.TransferFilter,
	txns []*solana.ParsedTransaction,
	m *metrics.Metrics,
	logger *slog.Logger,
) ([]*solana.TransferMatch, error) {
	out := c.App.Writer
	if c.Bool("json") {
		out = io.Discard
	}

	matches, err := solana.NewProcessor(out, filter, m, logger).ProcessTransactions(ctx, txns)
	if err != nil {
		return nil, fmt.Errorf("failed to process transactions: %w", err)
	}

	if c.Bool("json") {
		if matches == nil {
			matches = []*solana.TransferMatch{}
		}
		data, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal matches: %w", err)
		}
		fmt.Fprintln(c.App.Writer, string(data))
	}

	return matches, nil
}

func publishMatches(
	ctx context.Context,
	cfg *config.Config,
	matches []*solana.TransferMatch,
	m *metrics.Metrics,
	logger *slog.Logger,
) error {
	if len(matches) == 0 {
		logger.InfoContext(ctx, "no matched transfers to publish")
		return nil
	}

	publisher, err := newPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create NATS publisher: %w", err)
	}
	defer publisher.Close()

	events := make([]*natspkg.TransferEvent, 0, len(matches))
	for _, match := range matches {
		events = append(events, natspkg.FromMatch(cfg.TransferMint, match))
	}

	published, err := publisher.PublishTransferBatch(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to publish transfers: %w", err)
	}

	logger.InfoContext(ctx, "published matched transfers",
		"published", published,
		"failed", len(events)-published,
		"subject", natspkg.Subject(cfg.TransferMint),
	)
	return nil
}

// pushMetrics pushes the run's metrics when a Pushgateway is configured.
// A failed push is logged and does not fail the run.
func pushMetrics(c *cli.Context, cfg *config.Config, g prometheus.Gatherer, logger *slog.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(c.Context, cfg.PushgatewayURL, metricsJob, g); err != nil {
		logger.Warn("failed to push metrics", "error", err)
	}
}

func readTransactions(stdin io.Reader, path string) ([]*solana.ParsedTransaction, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var txns []*solana.ParsedTransaction
	if err := json.NewDecoder(r).Decode(&txns); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txns, nil
}
