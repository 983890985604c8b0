// meshctl is a tool for evaluating the mesh manager's convergence
// behaviour against a local, in-process cluster.
package main

import (
	"github.com/MorganaFuture/nim-libp2p-mesh/cmd/meshctl/cmd"
)

func main() {
	cmd.Execute()
}
