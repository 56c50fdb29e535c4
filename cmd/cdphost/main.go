// Command cdphost runs the CDP session bridge host: it exposes the tool
// surface described by spec.md §6 to one or more tool-calling clients over
// the duplex transport, driving a Chromium-family browser over CDP.
package main

import (
	"fmt"
	"os"

	"github.com/cdphost/bridge/internal/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
