package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"github.com/rmacdonaldsmith/fanout-go/pkg/pubsub"
	"github.com/rmacdonaldsmith/fanout-go/pkg/rate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

func newPublishCommand() *cobra.Command {
	var (
		topic   string
		payload string
		hz      float64
		count   int
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a payload to a topic at a fixed rate",
		Long: `Publish a JSON payload to a topic, re-encoded with the configured codec.
With --count 0 the payload is published until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, topic, payload, hz, count)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Payload as JSON")
	cmd.Flags().Float64Var(&hz, "hz", 10, "Publish frequency")
	cmd.Flags().IntVar(&count, "count", 1, "Number of messages, 0 publishes forever")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runPublish(cmd *cobra.Command, topic, payloadStr string, hz float64, count int) error {
	if err := requireClient(); err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("count cannot be negative")
	}

	// Parse payload JSON
	var payload any
	if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	r, err := rate.New(hz)
	if err != nil {
		return err
	}

	conn, cd, err := connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	value, err := payloadFor(cd, payload)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	pub, err := pubsub.NewPublisher(ctx, conn, topic, pubsub.Options{Codec: cd, Logger: logger})
	if err != nil {
		return err
	}
	defer pub.Close()

	logger.Info("Publishing", zap.String("topic", topic), zap.Float64("hz", hz), zap.Int("count", count))

	sent := 0
	for count == 0 || sent < count {
		if err := pub.Publish(ctx, value); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("failed to publish: %w", err)
		}
		sent++
		if ctx.Err() != nil || sent == count {
			break
		}
		r.Sleep()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %d message(s) to topic '%s'\n", sent, topic)
	return nil
}

// payloadFor adapts a decoded JSON value to what cd can encode.
func payloadFor(cd codec.Codec, payload any) (any, error) {
	if cd.Name() != codec.Proto.Name() {
		return payload, nil
	}
	v, err := structpb.NewValue(payload)
	if err != nil {
		return nil, fmt.Errorf("payload cannot be encoded as proto: %w", err)
	}
	return v, nil
}
