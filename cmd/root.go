package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/dinehub/services/orders/config"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "orders-service",
	Short: "Restaurant order and session service using event sourcing",
	Long:  `A service for restaurant order sessions and order fulfilment using event sourcing and CQRS`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

func initConfig() {
	var err error

	if cfgFile != "" {
		// Use config file from the flag
		config.SetConfigFile(cfgFile)
	}

	cfg, err = config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
}
