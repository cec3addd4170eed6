package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/courier/internal/client"
	"github.com/lazypower/courier/internal/config"
)

var (
	configPath string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Store-carry-forward relay for duty-cycled radio nodes",
	Long: "Courier relays bundles between nodes that are only occasionally in range. " +
		"Each node stores what it hears, alternates listen and send windows, and floods " +
		"every retained bundle to whoever is in range.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $COURIER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "Node API URL (default $COURIER_URL or http://127.0.0.1:37778)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads --config, then $COURIER_CONFIG, falling back to defaults
// when neither is set.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("COURIER_CONFIG")
	}
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newClient() *client.Client {
	return client.New(serverURL)
}
