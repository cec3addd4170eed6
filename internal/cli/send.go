package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sendLifetime time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <destination> [payload]",
	Short: "Originate a bundle on a running node",
	Long:  "Queue a bundle for origination on the node at --url. With no payload argument the payload is read from stdin.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().DurationVarP(&sendLifetime, "lifetime", "l", 0, "Bundle lifetime (default: node's agent.default_lifetime)")
}

func runSend(cmd *cobra.Command, args []string) error {
	var payload []byte
	if len(args) == 2 {
		payload = []byte(args[1])
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = data
	}

	if err := newClient().Send(args[0], payload, sendLifetime); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintf(os.Stderr, "queued %d bytes for %s\n", len(payload), args[0])
	return nil
}
