package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"periph.io/x/host/v3"

	"epdslide/internal/config"
	"epdslide/internal/epd"
	"epdslide/internal/frame"
	appLog "epdslide/internal/log"
	"epdslide/internal/slideshow"
	"epdslide/internal/web"
)

// openPanel initializes periph.io and binds the configured pins.
func openPanel(conf *config.Config) (*epd.Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}
	pc := conf.Panel()
	port, err := epd.NewGPIOPort(pc.Pins)
	if err != nil {
		return nil, err
	}
	return epd.New(port, pc)
}

var showOpts = struct {
	noInvert bool
	noDither bool
	trim     bool
}{}

var showCmd = &cobra.Command{
	Use:   "show FILE",
	Short: "Show one frame (.bin, .png, .jpg or .jpeg) and put the panel to sleep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		opts := conf.Frame()
		if showOpts.noDither {
			opts.Dither = false
		}
		if showOpts.trim {
			opts.Trim = true
		}
		plane, err := frame.Load(args[0], opts)
		if err != nil {
			return err
		}
		panel, err := openPanel(conf)
		if err != nil {
			return err
		}
		appLog.Info("showing frame", "file", args[0])
		return slideshow.Show(cmd.Context(), panel, plane, conf.Invert() && !showOpts.noInvert)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Blank the panel to white and put it to sleep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		panel, err := openPanel(conf)
		if err != nil {
			return err
		}
		white := bytes.Repeat([]byte{0xFF}, frame.Size)
		return slideshow.Show(cmd.Context(), panel, white, conf.Invert())
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Pulse the panel reset line and wait for it to report ready",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		panel, err := openPanel(conf)
		if err != nil {
			return err
		}
		if err := panel.HardwareReset(cmd.Context()); err != nil {
			return err
		}
		if err := panel.WaitUntilReady(cmd.Context()); err != nil {
			return err
		}
		appLog.Info("panel reset", "busy_pin", conf.Pins.Busy)
		return nil
	},
}

var slideshowOpts = struct {
	listen string
	once   bool
}{}

var slideshowCmd = &cobra.Command{
	Use:   "slideshow",
	Short: "Cycle the frames directory on the configured schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		// CLI --listen overrides config file listen if provided.
		if slideshowOpts.listen != "" {
			conf.Listen = slideshowOpts.listen
		}
		panel, err := openPanel(conf)
		if err != nil {
			return err
		}

		show := slideshow.New(panel, conf.Slideshow.Dir, conf.Invert(), conf.Frame())
		if slideshowOpts.once {
			return show.Next(cmd.Context())
		}
		return runSlideshow(cmd.Context(), conf, show)
	},
}

// runSlideshow runs the schedule and, unless listen is "off", the status
// server. The first of the two to return stops the other.
func runSlideshow(ctx context.Context, conf *config.Config, show *slideshow.Slideshow) error {
	if conf.Listen == "off" {
		return show.Run(ctx, conf.Slideshow.Cron)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- web.StartServer(ctx, conf, show) }()
	go func() { errs <- show.Run(ctx, conf.Slideshow.Cron) }()

	err := <-errs
	cancel()
	if rest := <-errs; err == nil {
		err = rest
	}
	return err
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (creating the file on first run)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(conf)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showOpts.noInvert, "no-invert", false, "Send frame bytes as-is")
	showCmd.Flags().BoolVar(&showOpts.noDither, "no-dither", false, "Threshold images instead of dithering")
	showCmd.Flags().BoolVar(&showOpts.trim, "trim", false, "Crop images to their object bounds first")
	slideshowCmd.Flags().StringVar(&slideshowOpts.listen, "listen", "", `HTTP listen address (overrides config; "off" disables)`)
	slideshowCmd.Flags().BoolVar(&slideshowOpts.once, "once", false, "Show the next frame and exit")
}
