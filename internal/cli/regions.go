package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(regionsCmd)
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the configured region topology",
	RunE:  runRegions,
}

func runRegions(cmd *cobra.Command, args []string) error {
	var resp struct {
		Regions []struct {
			ID        string   `json:"id"`
			Name      string   `json:"name"`
			Priority  int      `json:"priority"`
			Current   bool     `json:"current"`
			Primary   bool     `json:"primary"`
			CacheMode string   `json:"cache_mode"`
			Replicas  int      `json:"replicas"`
			Countries []string `json:"countries"`
		} `json:"regions"`
	}
	if err := newAPIClient().get("/v1/regions", &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tROLE\tCACHE\tREPLICAS\tCOUNTRIES")
	for _, r := range resp.Regions {
		role := "replica"
		if r.Primary {
			role = "primary"
		}
		if r.Current {
			role += " (local)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			r.ID, r.Name, r.Priority, role, r.CacheMode, r.Replicas, strings.Join(r.Countries, ","))
	}
	return w.Flush()
}
