package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"epdslide/internal/config"
	appLog "epdslide/internal/log"
)

// rootOpts holds persistent CLI flag values.
var rootOpts = struct {
	configPath string
	logLevel   string
}{}

var rootCmd = &cobra.Command{
	Use:           "epdslide",
	Short:         "Drive a 7.5\" e-Paper panel over GPIO",
	Long:          "epdslide shows frames on a 7.5\" 800x480 e-Paper panel wired to GPIO pins, once or as a scheduled slideshow.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOpts.configPath, "config", "/etc/epdslide/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&rootOpts.logLevel, "log-level", "", "Log level (overrides config if set)")

	rootCmd.AddCommand(showCmd, clearCmd, resetCmd, slideshowCmd, configCmd)
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLog.Error("epdslide failed", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	conf, err := config.Load(rootOpts.configPath)
	if err != nil {
		return nil, err
	}
	if rootOpts.logLevel != "" {
		conf.LogLevel = rootOpts.logLevel
	}
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}
	appLog.SetLevel(level)

	appLog.Debug("effective config",
		"config_path", rootOpts.configPath,
		"pins", conf.Pins,
		"busy_timeout", conf.Timing.BusyTimeout,
		"slideshow_dir", conf.Slideshow.Dir,
		"schedule", conf.Slideshow.Cron,
		"listen", conf.Listen,
	)
	return conf, nil
}
