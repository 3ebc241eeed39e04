// Command agent is the DMS device agent's process entrypoint.
package main

import (
	"github.com/rustyeddy/dms-agent/cmd"
)

func main() {
	cmd.Execute()
}
