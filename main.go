// The main package for the resolver executable.
package main

import (
	"github.com/JakeFAU/records-resolver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
