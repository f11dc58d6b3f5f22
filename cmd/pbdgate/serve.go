package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/calvinmclean/pbdgate/bridge"
	"github.com/calvinmclean/pbdgate/config"
	"github.com/calvinmclean/pbdgate/gateway"
	"github.com/calvinmclean/pbdgate/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Opens the serial port and serves the command port, the state port and the admin HTTP API
until interrupted. Configuration comes from the file given with --config, then PBDGATE_*
environment variables, then flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger := logging.New(level)

		port, err := bridge.Open(bridge.Config{
			Device:   cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
		})
		if err != nil {
			return err
		}
		logger.Info("serial port open", "port", cfg.Serial.Port, "baud_rate", cfg.Serial.BaudRate)

		g, err := gateway.New(cfg, port, logger)
		if err != nil {
			port.Close()
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return g.Run(ctx)
	},
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	err = cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("port") {
		cfg.Serial.Port, _ = flags.GetString("port")
	}
	if flags.Changed("baud-rate") {
		cfg.Serial.BaudRate, _ = flags.GetInt("baud-rate")
	}
	if flags.Changed("command-addr") {
		cfg.Command.Addr, _ = flags.GetString("command-addr")
	}
	if flags.Changed("state-addr") {
		cfg.State.Addr, _ = flags.GetString("state-addr")
	}
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr, _ = flags.GetString("http-addr")
	}

	err = cfg.Validate()
	if err != nil {
		return config.Config{}, fmt.Errorf("error validating config: %w", err)
	}
	return cfg, nil
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.StringP("port", "p", "", `Serial device, or "none" to run without a controller`)
	flags.Int("baud-rate", 0, "Serial baud rate")
	flags.String("command-addr", "", "Listen address of the command port")
	flags.String("state-addr", "", "Listen address of the state port")
	flags.String("http-addr", "", `Listen address of the admin HTTP API, "" disables it`)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd.Flags())
}
