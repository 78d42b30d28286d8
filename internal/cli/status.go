package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hse-digital/datalayer/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show endpoint health and failover state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status struct {
		Failover domain.FailoverState  `json:"failover"`
		Health   domain.HealthSnapshot `json:"health"`
	}
	if err := newAPIClient().get("/v1/status", &status); err != nil {
		return err
	}

	fmt.Printf("Primary region:   %s\n", status.Failover.PrimaryRegion)
	fmt.Printf("Original primary: %s\n", status.Failover.OriginalPrimary)
	fmt.Printf("Failback enabled: %v\n", status.Failover.FailbackEnabled)
	if !status.Failover.LastFailoverAt.IsZero() {
		fmt.Printf("Last failover:    %s (%s)\n", status.Failover.LastFailoverAt.Format("2006-01-02 15:04:05"), status.Failover.LastTrigger)
	}
	if !status.Failover.LastFailbackAt.IsZero() {
		fmt.Printf("Last failback:    %s\n", status.Failover.LastFailbackAt.Format("2006-01-02 15:04:05"))
	}
	if status.Failover.InProgress {
		fmt.Println("Transition in progress")
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDPOINT\tSTATE\tFAILS\tLAST CHECK\tERROR")
	for _, rec := range status.Health.Records {
		last := "-"
		if !rec.LastCheck.IsZero() {
			last = rec.LastCheck.Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			rec.Key, rec.State, rec.ConsecutiveFails, last, rec.LastError)
	}
	return w.Flush()
}
