package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusBundles bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusBundles, "bundles", "b", false, "List retained bundles")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	st, err := c.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("%s  policy=%s  mode=%s (%s left, cycle %d)\n",
		st.EID, st.Policy, st.Mode, st.ModeRemaining.Round(time.Millisecond), st.Cycles)
	fmt.Printf("  up since %s, heap %s\n", humanize.Time(st.Started), humanize.Bytes(st.HeapBytes))
	fmt.Printf("  store: %d bundles, %d known ids, %d neighbors (evicted %d bodies, %d ids; purged %d)\n",
		st.Store.Stored, st.Store.Known, st.Store.Nodes,
		st.Store.EvictedBodies, st.Store.EvictedIDs, st.Store.Purged)
	fmt.Printf("  router: received %d, duplicates %d, malformed %d, sent %d, failed %d, expired skips %d\n",
		st.Router.Received, st.Router.Duplicates, st.Router.Malformed,
		st.Router.Sent, st.Router.SendFailures, st.Router.ExpiredSkips)
	fmt.Printf("  agent: originated %d, delivered %d; radio dropped %d\n",
		st.Agent.Originated, st.Agent.Delivered, st.RadioDropped)

	if !statusBundles {
		return nil
	}

	bundles, err := c.Bundles()
	if err != nil {
		return fmt.Errorf("get bundles: %w", err)
	}
	if len(bundles) == 0 {
		fmt.Println("\nNo bundles retained.")
		return nil
	}

	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Bundle", "Destination", "Size", "Hops", "Expires", "From", "Sent", "Retries"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, b := range bundles {
		table.Append([]string{
			b.ID,
			b.Destination,
			humanize.Bytes(uint64(b.Size)),
			strconv.Itoa(int(b.HopCount)),
			humanize.Time(b.Expires),
			orDash(b.ReceivedFrom),
			strconv.Itoa(b.Sent),
			strconv.Itoa(b.Retries),
		})
	}
	table.Render()
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
