// Command ado-asana-sync bridges Azure DevOps work items and pull request
// reviews into Asana tasks.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danstis/ado-asana-sync/internal/config"
	"github.com/danstis/ado-asana-sync/internal/logging"
	"github.com/danstis/ado-asana-sync/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "ado-asana-sync",
	Short:         "Sync Azure DevOps work items and PR reviews into Asana",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadSettings loads configuration and initializes logging for a command.
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logging.Setup(settings.LogLevel, settings.LogFile)
	return settings, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
