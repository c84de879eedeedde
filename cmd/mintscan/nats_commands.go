package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/mintscan/service/config"
	natspkg "github.com/brojonat/mintscan/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsCommands() *cli.Command {
	return &cli.Command{
		Name:  "nats",
		Usage: "Inspect and follow published transfers",
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

// subscribeCommand follows transfer events published for a mint.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream transfer events published for a mint",
		ArgsUsage: "[MINT]",
		Description: `Follow transfer events published by "mintscan fetch --publish".
Events are read from the subject transfers.{mint}. Without an argument the
configured mint (TRANSFER_MINT) is used.

Example:
  mintscan nats subscribe H24RXEMJ6TK61NrbMZoNxMj2u3yaxJcVMSM65AqfUj9o --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "mintscan-cli",
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "Stop after this long (0 waits for Ctrl-C)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Print raw JSON events",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, func(cfg *config.Config) {
				if mint := c.Args().Get(0); mint != "" {
					cfg.TransferMint = mint
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("for"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: natspkg.Subject(cfg.TransferMint),
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			return streamTransfers(ctx, c.App.Writer, c.App.ErrWriter, cfg.NATSURL, consumerConfig, c.Bool("json"))
		},
	}
}

// streamTransfers connects to NATS and prints transfer events until ctx ends.
func streamTransfers(ctx context.Context, out, errOut io.Writer, natsURL string, consumerConfig jetstream.ConsumerConfig, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(out, "Subscribing to: %s\n", consumerConfig.FilterSubject)
		fmt.Fprintf(out, "   NATS: %s\n", natsURL)
		if consumerConfig.Durable != "" {
			fmt.Fprintf(out, "   Consumer: %s (durable)\n", consumerConfig.Durable)
		}
		fmt.Fprintf(out, "\nWaiting for transfers... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		enqueue(ctx, msgChan, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(errOut, "Error parsing event: %v\n", err)
				_ = msg.Ack()
				continue
			}

			count++
			if err := printTransferEvent(out, count, &event, jsonOutput); err != nil {
				return err
			}
			_ = msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(out, "\nReceived %d transfers\n", count)
			}
			return nil
		}
	}
}

// enqueue hands msg to the print loop, giving up once ctx is done so the
// consume callback never blocks after the loop has returned.
func enqueue(ctx context.Context, ch chan<- jetstream.Msg, msg jetstream.Msg) bool {
	select {
	case ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func printTransferEvent(out io.Writer, n int, event *natspkg.TransferEvent, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(out, "Transfer #%d\n", n)
	fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(out, "Signature:    %s\n", event.Signature)
	fmt.Fprintf(out, "Slot:         %d\n", event.Slot)
	fmt.Fprintf(out, "Mint:         %s\n", event.Mint)
	if event.Source != "" {
		fmt.Fprintf(out, "Source:       %s\n", event.Source)
	}
	if event.Destination != "" {
		fmt.Fprintf(out, "Destination:  %s\n", event.Destination)
	}
	if event.Amount != "" {
		if event.Decimals != nil {
			fmt.Fprintf(out, "Amount:       %s (decimals %d)\n", event.Amount, *event.Decimals)
		} else {
			fmt.Fprintf(out, "Amount:       %s\n", event.Amount)
		}
	}
	fmt.Fprintf(out, "Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "\n")
	return nil
}

// inspectStreamCommand shows information about the TRANSFERS stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Print stream info as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			nc, err := nats.Connect(cfg.NATSURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal stream info: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(out, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(out, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(out, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(out, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(out, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(out, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(out, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(out, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(out, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(out, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
