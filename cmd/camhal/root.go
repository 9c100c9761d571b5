package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-camera-hal/internal/config"
)

var (
	flagConfig string
	flagDevice string

	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "camhal",
		Short: "Camera HAL capture tool",
		Long: `camhal exercises the camera driver shim against a V4L2 capture node
or the in-process fake backend ("fake:"). It can list what the hardware
offers and run capture sessions through the full request pipeline.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}
			if flagDevice != "" {
				cfg.DevicePath = flagDevice
			}
			setupLogging(cfg.LogLevel)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&flagDevice, "device", "d", "", "device path, e.g. /dev/video0 or fake:")
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level %q, using info\n", level)
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
