package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/lora-packet-multiplexer/internal/config"
)

var cfgFiles []string

// version is set by Execute from the value main was linked with.
var version string

var rootCmd = &cobra.Command{
	Use:   "lora-packet-multiplexer",
	Short: "LoRa packet multiplexer",
	Long: `LoRa packet multiplexer relays GWMP (Semtech packet-forwarder) UDP
traffic between a fleet of LoRaWAN gateways and a configured list of
upstream network servers.
	> documentation & support: https://www.loraserver.io/lora-gateway-bridge/
	> source & copyright information: https://github.com/brocaar/lora-gateway-bridge/`,
	RunE: run,
}

// Execute runs the root command.
func Execute(v string) {
	version = v
	rootCmd.PersistentFlags().StringSliceVarP(&cfgFiles, "config", "c", []string{}, "path to configuration file (optional, may be repeated)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	c, err := config.Load(cfgFiles)
	if err != nil {
		log.WithError(err).Fatal("cmd: read configuration error")
	}
	config.C = c
}
