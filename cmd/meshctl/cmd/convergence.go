package cmd

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
	"github.com/MorganaFuture/nim-libp2p-mesh/pkg/cluster"
)

func init() {
	rootCmd.AddCommand(convergenceCmd)
}

var convergenceCmd = &cobra.Command{
	Use:   "convergence",
	Short: "Measure the time for a cluster's mesh to fully converge",
	Run: func(cmd *cobra.Command, args []string) {
		c := cluster.NewCluster(wire.TopicID("eval"), params())
		defer c.Shutdown()

		if err := c.AddNodes(8); err != nil {
			log.Fatalf("failed to add nodes: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		start := time.Now()
		if err := c.WaitForMeshConverged(ctx); err != nil {
			log.Fatalf("timed out waiting for mesh to converge: %v", err)
		}
		log.Printf("mesh converged across %d nodes in %s", len(c.Nodes()), time.Since(start))
	},
}
