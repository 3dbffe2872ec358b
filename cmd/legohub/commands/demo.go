package commands

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"legohub"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Connect to a hub and run a short LED and motor demo",
	RunE:  runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
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

	if led := hub.LED(); led != nil {
		fmt.Println("Cycling LED colors...")
		for _, c := range []byte{legohub.ColorRed, legohub.ColorGreen, legohub.ColorBlue} {
			if err := led.SetColor(c); err != nil {
				return err
			}
			time.Sleep(500 * time.Millisecond)
		}
	} else {
		color.Yellow("No LED attached, skipping color demo")
	}

	if motors := hub.MotorAB(); motors != nil {
		fmt.Println("Spinning motors A+B...")
		if err := motors.Timed(time.Second, 0.3); err != nil {
			return err
		}
		if err := motors.TimedPair(time.Second, 0.3, -0.3); err != nil {
			return err
		}
	} else {
		color.Yellow("No motor pair attached, skipping motor demo")
	}

	if tilt := hub.TiltSensor(); tilt != nil {
		values, err := tilt.GetSensorData(legohub.TiltMode2AxisAngle)
		if err != nil {
			return err
		}
		if len(values) == 2 {
			fmt.Printf("Tilt: roll %.0f, pitch %.0f\n", values[0], values[1])
		}
	}

	return hub.Disconnect()
}
