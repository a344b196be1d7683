package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rmacdonaldsmith/fanout-go/internal/config"
	"github.com/rmacdonaldsmith/fanout-go/internal/logging"
	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"github.com/rmacdonaldsmith/fanout-go/pkg/management"
	"github.com/rmacdonaldsmith/fanout-go/pkg/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	host       string
	managePort int
	amqpPort   int
	auth       string
	vhostPath  string
	codecName  string
	logLevel   string
	logFormat  string
	timeout    time.Duration

	// Initialized by initializeClient
	cfg    *config.Config
	logger *zap.Logger
	client *management.Client

	// dial opens the AMQP connection used by echo and publish
	dial = func(url string, logger *zap.Logger) (broker.Connection, error) {
		return pubsub.Dial(url, logger)
	}
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fanout-cli",
		Short: "RabbitMQ fanout topic command line interface",
		Long: `fanout-cli inspects and exercises fanout topics on a RabbitMQ broker.
It lists and deletes exchanges through the management API, echoes the
messages flowing through a topic, and publishes test payloads at a fixed rate.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	// Add global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.StringVar(&host, "ip", "localhost", "Address of the host running rabbitmq-server and rabbitmq_management")
	flags.IntVar(&managePort, "manage-port", 15672, "Port of rabbitmq_management")
	flags.IntVar(&amqpPort, "amqp-port", 5672, "Port of rabbitmq-server")
	flags.StringVar(&auth, "auth", "guest@guest", "Credentials, format is username@password")
	flags.StringVar(&vhostPath, "vhost-path", "/", "Virtual host to connect to")
	flags.StringVar(&codecName, "codec", codec.Default.Name(), "Payload codec (msgpack, json, proto)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "Management API request timeout")

	// Add subcommands
	rootCmd.AddCommand(newExchangesCommand())
	rootCmd.AddCommand(newEchoCommand())
	rootCmd.AddCommand(newPublishCommand())

	return rootCmd
}

// initializeClient merges the config file with explicitly set flags and
// builds the logger and management client.
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	c := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		c = loaded
	}
	if err := applyFlags(cmd, c); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logging.New(c.Logging.Level, c.Logging.Format)
	if err != nil {
		return err
	}

	mc, err := management.NewClient(management.Config{
		ServerURL: c.ManagementURL(),
		Username:  c.Broker.Username,
		Password:  c.Broker.Password,
		Timeout:   c.Management.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	cfg, logger, client = c, l, mc
	return nil
}

// applyFlags overrides config values with the flags given on the command line.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("ip") {
		c.Broker.Host = host
	}
	if changed("manage-port") {
		c.Management.Port = managePort
	}
	if changed("amqp-port") {
		c.Broker.Port = amqpPort
	}
	if changed("auth") {
		if err := c.SetAuth(auth); err != nil {
			return err
		}
	}
	if changed("vhost-path") {
		c.Broker.VHost = vhostPath
	}
	if changed("codec") {
		c.Codec = codecName
	}
	if changed("log-level") {
		c.Logging.Level = logLevel
	}
	if changed("log-format") {
		c.Logging.Format = logFormat
	}
	if changed("timeout") {
		c.Management.Timeout = timeout
	}
	return nil
}

// requireClient checks that initializeClient ran
func requireClient() error {
	if client == nil || cfg == nil {
		return fmt.Errorf("client not initialized")
	}
	return nil
}

// connect dials the broker named by the active configuration.
func connect() (broker.Connection, codec.Codec, error) {
	cd, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	conn, err := dial(cfg.AMQPURL(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return conn, cd, nil
}
