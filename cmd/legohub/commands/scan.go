package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"legohub"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for hubs advertising the LEGO wireless protocol service",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for hubs (%s)...\n", cfg.scanTimeout)
	hubs, err := legohub.ScanForHubs(cfg.scanTimeout)
	if err != nil {
		return err
	}
	if len(hubs) == 0 {
		color.Yellow("No hubs found")
		return nil
	}

	for _, hub := range hubs {
		name := hub.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %s  RSSI %d\n", color.GreenString(name), hub.Address, hub.RSSI)
	}
	return nil
}
