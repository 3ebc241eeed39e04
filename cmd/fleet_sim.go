package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dms-agent/fleet"
)

var (
	fleetCount      int
	fleetRetryCount int
)

var fleetSimCmd = &cobra.Command{
	Use:   "fleet-sim",
	Short: "Simulate N devices' reconnect delays and print their 1s-bucket histogram",
	Long: `Runs the in-process fleet dispersion simulator (the same one
exercised by the fleet package's tests) as a standalone
command: builds N synthetic devices, computes NextDelay() for each at
the given retry count, and reports whether the result stays within the
spec's no-pile-up bound.`,
	RunE: runFleetSim,
}

func init() {
	fleetSimCmd.Flags().IntVar(&fleetCount, "count", 10000, "number of simulated devices")
	fleetSimCmd.Flags().IntVar(&fleetRetryCount, "retry", 1, "retry count to simulate NextDelay() at")
}

func runFleetSim(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}

	sim := fleet.NewSimulator(fleetCount, loaded)
	report := sim.Disperse(fleetRetryCount)

	fmt.Fprintf(cmdOutput, "devices=%d retry_count=%d buckets=%d max_bucket=%ds max_count=%d average_share=%.2f within_bound=%v\n",
		fleetCount, fleetRetryCount, len(report.Buckets), report.MaxBucket, report.MaxCount, report.AverageShare, report.WithinBound())

	for _, bucket := range report.SortedBuckets() {
		fmt.Fprintf(cmdOutput, "  %4ds: %d\n", bucket, report.Buckets[bucket])
	}
	return nil
}
