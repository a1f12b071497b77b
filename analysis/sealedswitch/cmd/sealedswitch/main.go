// Command sealedswitch runs the sealedswitch analyzer as a standalone vet tool.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"corpus_dashboard/analysis/sealedswitch"
)

func main() {
	singlechecker.Main(sealedswitch.Analyzer)
}
