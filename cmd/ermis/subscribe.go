package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ermis "github.com/bitloops/ermis/sdk/golang"
)

var subscribeTransport transportFlag

func init() {
	subscribeCmd.Flags().Var(&subscribeTransport, "transport", "Streaming transport: sse or websocket")
	rootCmd.AddCommand(subscribeCmd)
}

// eventLine is one line of subscribe output.
type eventLine struct {
	Topic      string          `json:"topic"`
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <topic>...",
	Short: "Print events from one or more topics",
	Long:  "Subscribe to the given topics and print each event as a JSON line until interrupted.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := requireCredentials(cfg); err != nil {
			return err
		}

		logger := newLogger()
		defer logger.Sync()

		opts, err := clientOptions(cfg, logger, subscribeTransport)
		if err != nil {
			return err
		}
		client := ermis.NewClient(cfg.Default, opts...)
		client.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(os.Stderr, "connection lost, retry %d in %s\n", attempt, delay)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		unsubscribes, err := subscribeAll(ctx, client, args, newEventWriter(cmd.OutOrStdout()))
		defer func() {
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, unsubscribe := range unsubscribes {
				unsubscribe(cleanup)
			}
		}()
		if err != nil {
			return err
		}

		logger.Info("subscribed",
			zap.Strings("topics", args),
			zap.String("connection_id", client.ConnectionID()))
		<-ctx.Done()
		return nil
	},
}

func subscribeAll(ctx context.Context, client *ermis.Client, topics []string, write func(string, json.RawMessage)) ([]ermis.Unsubscribe, error) {
	var unsubscribes []ermis.Unsubscribe
	for _, topic := range topics {
		unsubscribe, err := client.Subscribe(ctx, topic, func(payload json.RawMessage) {
			write(topic, payload)
		})
		if err != nil {
			return unsubscribes, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		unsubscribes = append(unsubscribes, unsubscribe)
	}
	return unsubscribes, nil
}

// newEventWriter returns a func that writes one JSON line per event.
// Writes are serialized across topics.
func newEventWriter(w io.Writer) func(string, json.RawMessage) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(topic string, payload json.RawMessage) {
		if !json.Valid(payload) {
			b, _ := json.Marshal(string(payload))
			payload = b
		}
		mu.Lock()
		defer mu.Unlock()
		enc.Encode(eventLine{Topic: topic, ReceivedAt: time.Now().UTC(), Data: payload})
	}
}
