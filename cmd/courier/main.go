// courier bridges Slack and a local Claude Code installation through a
// GitHub repository used as a durable task queue. The `ingress` process
// accepts Slack traffic from anywhere; the `runner` process executes
// tasks on the operator's machine. Neither talks to the other directly.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var errOut = color.New(color.FgRed).SprintFunc()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errOut("Error:"), err)
		os.Exit(1)
	}
}
