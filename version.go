// Package agent is the root package of the DMS device agent: it holds
// the build version and nothing else. The actual subsystems live in
// their own packages (identity, transport, shadow, command, reconnect,
// restclient, supervisor) so they can be imported independently of the
// CLI.
package agent

import "fmt"

// Version is the agent build version, overridden at link time with
// -ldflags "-X github.com/rustyeddy/dms-agent.Version=...".
var Version = "0.1.0"

// VersionJSON returns the version as a small JSON document, used by
// the "agent version --json" command.
func VersionJSON() []byte {
	return []byte(fmt.Sprintf(`{"version": "%s"}`, Version))
}
