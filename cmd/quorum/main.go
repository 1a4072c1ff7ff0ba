// Command quorum runs a demo evaluation across simulated model backends,
// exercising the fan-out executor, the per-provider admission gate, the
// aggregation policies, and the observer pipeline end to end.
package main

import "github.com/ahrav/go-quorum/internal/cli"

func main() {
	cli.Execute()
}
