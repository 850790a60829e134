// Command docsyncd runs a single docsync peer: it listens for inbound
// websocket connections, optionally dials a list of remote peers, and keeps
// every subscribed document synchronized for as long as the process runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsyncd",
		Short: "docsyncd runs a peer-to-peer document synchronizer",
	}
	cmd.PersistentFlags().String("home", defaultHome(), "directory holding config.toml")
	cmd.AddCommand(newInitCommand(), newStartCommand(), newVersionCommand())
	return cmd
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".docsyncd"
	}
	return dir + "/.docsyncd"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the docsyncd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

const version = "0.1.0"
