// Command muxd is the Mux workspace-host daemon: it loads configuration,
// wires the engine to the configured projects, and serves the HTTP API.
package main

import (
	"github.com/mux-run/mux/backend/cmd/muxd/cmd"
)

func main() {
	cmd.Execute()
}
