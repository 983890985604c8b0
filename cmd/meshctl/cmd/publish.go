package cmd

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MorganaFuture/nim-libp2p-mesh/internal/wire"
	"github.com/MorganaFuture/nim-libp2p-mesh/pkg/cluster"
)

func init() {
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Measure the time for a published message id to lazily gossip to the publisher's non-mesh gossipsub peers",
	Run: func(cmd *cobra.Command, args []string) {
		topic := wire.TopicID("eval")
		c := cluster.NewCluster(topic, params())
		defer c.Shutdown()

		if err := c.AddNodes(24); err != nil {
			log.Fatalf("failed to add nodes: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.WaitForMeshConverged(ctx); err != nil {
			log.Fatalf("timed out waiting for mesh to converge: %v", err)
		}

		publisher := c.Nodes()[0]
		id := wire.MessageID(uuid.New().String())

		start := time.Now()
		if err := publisher.Router.Publish(ctx, topic, id, []byte("payload")); err != nil {
			log.Fatalf("failed to publish: %v", err)
		}
		if err := c.WaitForGossipFanout(ctx, publisher.ID, id); err != nil {
			log.Fatalf("timed out waiting for gossip fan-out: %v", err)
		}
		log.Printf("message gossiped to every non-mesh peer in %s", time.Since(start))
	},
}
