// twinscope - digital-twin graph with revision diffs and impact analysis.
//
// twinscope keeps a graph of DTMI-identified twins, records snapshots
// extracted from engineering artifacts, and reports which twins a change
// to an artifact is likely to affect.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/twinscope/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
