package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "Tool for evaluating the mesh manager's convergence behaviour",
	Run:   func(cmd *cobra.Command, args []string) {},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a GossipSub parameter YAML file (defaults to config.Default())")
}

// params loads the parameter set named by --config, falling back to
// config.Default() when unset.
func params() config.Params {
	p, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return p
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to execute root command: %v", err)
	}
}
