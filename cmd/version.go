package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	agent "github.com/rustyeddy/dms-agent"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent's version number",
	Run: func(cmd *cobra.Command, args []string) {
		if versionJSON {
			fmt.Fprintln(cmdOutput, string(agent.VersionJSON()))
			return
		}
		fmt.Fprintln(cmdOutput, agent.Version)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version as a JSON document")
}
