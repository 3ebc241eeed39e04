package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var shellAddr string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive REPL that talks to a running agent's debug console",
	Long: `Connects over loopback HTTP to a running "agent run --debug-addr"
instance and offers a tiny command set: "status" to print the current
connection snapshot, "reconnect" to force the agent to drop and
re-establish its connection, and "exit"/"quit" to leave.`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellAddr, "addr", "127.0.0.1:8700", "debug console address to connect to")
}

func runShell(cmd *cobra.Command, args []string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "agent\033[31m»\033[0m ",
		HistoryFile:       "/tmp/dms-agent-shell.tmp",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	httpClient := &http.Client{Timeout: 3 * time.Second}
	base := "http://" + shellAddr

	fmt.Fprintf(cmdOutput, "connected to %s (status, reconnect, exit)\n", base)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}

		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return nil
		case "":
			continue
		case "status":
			shellStatus(httpClient, base)
		case "reconnect":
			shellReconnect(httpClient, base)
		default:
			fmt.Fprintf(cmdOutput, "unknown command %q (try status, reconnect, exit)\n", line)
		}
	}
}

func shellStatus(client *http.Client, base string) {
	resp, err := client.Get(base + "/status")
	if err != nil {
		fmt.Fprintf(cmdOutput, "error: %s\n", err)
		return
	}
	defer resp.Body.Close()

	var snap map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		fmt.Fprintf(cmdOutput, "error decoding status: %s\n", err)
		return
	}
	body, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Fprintln(cmdOutput, string(body))
}

func shellReconnect(client *http.Client, base string) {
	resp, err := client.Post(base+"/reconnect", "application/json", nil)
	if err != nil {
		fmt.Fprintf(cmdOutput, "error: %s\n", err)
		return
	}
	defer resp.Body.Close()
	fmt.Fprintf(cmdOutput, "reconnect requested: %s\n", resp.Status)
}
