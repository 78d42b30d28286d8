package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hse-digital/datalayer/internal/domain"
)

func init() {
	failoverCmd.Flags().BoolVar(&failbackEnable, "enable-failback", false, "Re-enable automatic failback after this failover")
	rootCmd.AddCommand(failoverCmd)
}

var failbackEnable bool

var failoverCmd = &cobra.Command{
	Use:   "failover <target-region>",
	Short: "Manually fail over to a target region",
	Long: `Manually promote the target region to primary. Rejected while another
transition is in flight. Automatic failback is disabled afterwards so the
move is not silently undone; pass --enable-failback to re-arm it.`,
	Args: cobra.ExactArgs(1),
	RunE: runFailover,
}

func runFailover(cmd *cobra.Command, args []string) error {
	c := newAPIClient()

	var state domain.FailoverState
	req := map[string]string{"target_region": args[0]}
	if err := c.post("/v1/failover", req, &state); err != nil {
		return err
	}
	fmt.Printf("Primary is now %s (transition %s)\n", state.PrimaryRegion, state.LastTransitionID)

	if failbackEnable {
		if err := c.post("/v1/failback", map[string]bool{"enabled": true}, &state); err != nil {
			return err
		}
		fmt.Println("Automatic failback re-enabled.")
	}
	return nil
}
