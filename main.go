// The main package for the dossier executable.
package main

import (
	"github.com/JakeFAU/dossier-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
