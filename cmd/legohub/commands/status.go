package commands

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"legohub"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to a hub and report its state and attached peripherals",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	conn, err := legohub.ConnectBLE(cfg.Address, cfg.scanTimeout)
	if err != nil {
		return err
	}

	hub, err := legohub.NewMoveHub(conn, legohub.WithReplyTimeout(cfg.replyTimeout))
	if err != nil {
		conn.Disconnect()
		return err
	}
	defer hub.Close()

	info := hub.Info()
	fmt.Printf("Hub:     %s\n", color.GreenString(info.Name))
	fmt.Printf("MAC:     %s\n", info.MAC)
	fmt.Printf("Battery: %d%%\n", info.BatteryPercent)

	peripherals := hub.Peripherals()
	ports := make([]int, 0, len(peripherals))
	for port := range peripherals {
		ports = append(ports, int(port))
	}
	sort.Ints(ports)

	fmt.Println("Peripherals:")
	for _, port := range ports {
		fmt.Printf("  0x%02x  %v\n", port, peripherals[byte(port)])
	}
	return nil
}
