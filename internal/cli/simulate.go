package cli

import (
	"github.com/spf13/cobra"

	"batterywatch/internal/app"
)

var (
	simulateTicks    int
	simulateScenario string
	simulateBattery  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pipeline offline against the synthetic fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Ticks:    simulateTicks,
			Scenario: simulateScenario,
			Battery:  simulateBattery,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 600, "Number of ticks to simulate")
	simulateCmd.Flags().StringVar(&simulateScenario, "scenario", "", "Fault scenario to inject (thermal_stress, overcharge, internal_short)")
	simulateCmd.Flags().StringVar(&simulateBattery, "battery", "", "Battery to inject the scenario into (defaults to all)")
}
