package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-camera-hal/internal/device"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the pixel formats and frame sizes the device offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := device.Open(cfg.DevicePath)
		if err != nil {
			return err
		}
		if err := dev.Connect(); err != nil {
			return err
		}
		defer dev.Disconnect()

		info, err := dev.Info()
		if err != nil {
			return err
		}
		bold := color.New(color.Bold)
		bold.Printf("%s", info.Card)
		fmt.Printf("  (%s, %s)\n", info.Driver, info.BusInfo)

		formats, err := dev.EnumFormats()
		if err != nil {
			return err
		}
		tag := color.New(color.FgCyan)
		for _, f := range formats {
			tag.Printf("  %s", f)
			sizes, err := dev.EnumFrameSizes(f)
			if err != nil {
				return err
			}
			for _, s := range sizes {
				fmt.Printf("  %dx%d", s.Width, s.Height)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}
