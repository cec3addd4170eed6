package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lazypower/courier/internal/journal"
)

var (
	eventsLimit  int
	eventsLocal  bool
	eventsBundle string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent journal events",
	Long:  "Show recent relay events from the node API, or straight from the journal file with --local.",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Maximum number of events")
	eventsCmd.Flags().BoolVar(&eventsLocal, "local", false, "Read the journal file instead of the API")
	eventsCmd.Flags().StringVar(&eventsBundle, "bundle", "", "Show the history of one bundle (implies --local)")
}

// openJournal opens the journal configured for this host.
func openJournal() (*journal.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Journal.Path
	if path == "" {
		path, err = journal.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return journal.Open(path)
}

func runEvents(cmd *cobra.Command, args []string) error {
	var (
		events []journal.Event
		err    error
	)
	switch {
	case eventsBundle != "":
		db, err := openJournal()
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		events, err = db.BundleHistory(eventsBundle)
		if err != nil {
			return err
		}
	case eventsLocal:
		db, err := openJournal()
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		events, err = db.RecentEvents(eventsLimit)
		if err != nil {
			return err
		}
	default:
		events, err = newClient().Events(eventsLimit)
		if err != nil {
			return fmt.Errorf("get events: %w", err)
		}
	}

	if len(events) == 0 {
		fmt.Println("No events.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"When", "Kind", "Bundle", "Neighbor", "Size", "Detail"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, e := range events {
		size := "-"
		if e.Size > 0 {
			size = strconv.Itoa(e.Size)
		}
		table.Append([]string{
			humanize.Time(e.At),
			e.Kind,
			orDash(e.BundleID),
			orDash(e.Neighbor),
			size,
			orDash(e.Detail),
		})
	}
	table.Render()
	return nil
}
