package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "./config.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "medtrack",
	Short: "medtrack - medication reminder scheduler",
	Long: `medtrack keeps a medication inventory, works out when each dose is due
and sends one reminder per dose, decrementing the remaining supply as it goes.`,
	SilenceUsage: true,
	// Bare "medtrack" runs the daemon.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, tickCmd, previewCmd, listCmd, addCmd, editCmd, refillCmd, removeCmd, statusCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, JSON or YAML (default "+defaultConfigPath+")")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	viper.SetEnvPrefix("MEDTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("config", defaultConfigPath)
}

// configPath resolves --config, then MEDTRACK_CONFIG, then the default.
func configPath() string {
	return strings.TrimSpace(viper.GetString("config"))
}
