// The main package for the bowatch executable.
package main

import "github.com/ahenriksson/bowatch/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
