package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rmacdonaldsmith/fanout-go/pkg/management"
	"github.com/rmacdonaldsmith/fanout-go/pkg/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// echoQueueCapacity keeps echo close to live when it prints slower than the publisher
	echoQueueCapacity = 2
	rateWindow        = 100
	separator         = "-------------------------------------------------------------"
)

func newEchoCommand() *cobra.Command {
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Print the messages published to a topic",
		Long: `Subscribe to one exchange and print every message with a running count
and the observed message rate. When several exchanges match the filters,
asks which one to follow. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(cmd, &filters)
		},
	}
	filters.register(cmd)

	return cmd
}

func runEcho(cmd *cobra.Command, filters *filterFlags) error {
	matches, err := findExchanges(cmd.Context(), filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	exchange, ok, err := selectExchange(cmd.InOrStdin(), out, matches)
	if err != nil || !ok {
		return err
	}
	cfg.Broker.VHost = exchange.VHost

	conn, cd, err := connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sub, err := pubsub.NewSubscriber(ctx, conn, pubsub.Options{Codec: cd, Logger: logger})
	if err != nil {
		return err
	}
	defer sub.Close()

	printer := newEchoPrinter(out)
	if _, err := sub.Subscribe(ctx, exchange.Name, echoQueueCapacity, printer.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", exchange.Name, err)
	}

	logger.Info("Waiting for messages", zap.String("exchange", exchange.Name), zap.String("vhost", exchange.VHost))
	err = sub.Spin(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// selectExchange returns the single match, or asks for an index when there
// are several. ok is false when nothing matched.
func selectExchange(in io.Reader, out io.Writer, matches []management.Exchange) (management.Exchange, bool, error) {
	switch len(matches) {
	case 0:
		fmt.Fprintln(out, "No match found.")
		return management.Exchange{}, false, nil
	case 1:
		return matches[0], true, nil
	}

	fmt.Fprintln(out, "Found multiple matches:")
	printExchanges(out, matches, 0)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Input index to select: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			if err := scanner.Err(); err != nil {
				return management.Exchange{}, false, err
			}
			return management.Exchange{}, false, fmt.Errorf("no selection received")
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		index, err := strconv.Atoi(line)
		if err != nil || index < 0 || index >= len(matches) {
			return management.Exchange{}, false, fmt.Errorf("invalid index %q: must be between 0 and %d", line, len(matches)-1)
		}
		return matches[index], true, nil
	}
}

// echoPrinter prints each message with its count and the rate over the last
// rateWindow intervals.
type echoPrinter struct {
	out   io.Writer
	count int
	meter rateMeter
}

func newEchoPrinter(out io.Writer) *echoPrinter {
	return &echoPrinter{out: out, meter: rateMeter{window: rateWindow, now: time.Now}}
}

func (p *echoPrinter) handle(v any) error {
	p.count++
	fmt.Fprintln(p.out, separator)
	fmt.Fprintf(p.out, "Count: %d\n", p.count)
	if hz, ok := p.meter.observe(); ok {
		fmt.Fprintf(p.out, "Rate: %.2f Hz\n", hz)
	}
	fmt.Fprintf(p.out, "Data: %s\n", formatValue(v))
	return nil
}

// rateMeter averages the intervals between observations over a sliding window.
type rateMeter struct {
	window int
	now    func() time.Time

	prev  time.Time
	dts   []time.Duration
	total time.Duration
}

// observe records an arrival. It reports false until two arrivals have been seen.
func (m *rateMeter) observe() (float64, bool) {
	current := m.now()
	if m.prev.IsZero() {
		m.prev = current
		return 0, false
	}
	dt := current.Sub(m.prev)
	m.prev = current

	m.dts = append(m.dts, dt)
	m.total += dt
	if len(m.dts) > m.window {
		m.total -= m.dts[0]
		m.dts = m.dts[1:]
	}
	if m.total <= 0 {
		return 0, false
	}
	mean := m.total.Seconds() / float64(len(m.dts))
	return 1 / mean, true
}

func formatValue(v any) string {
	if m, ok := v.(proto.Message); ok {
		return protojson.Format(m)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
