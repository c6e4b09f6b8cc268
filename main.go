// The main package for the corpus-refinery executable.
package main

import (
	"github.com/JakeFAU/corpus-refinery/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
