// Command big-sim runs the built-in "big" interop scenario against the model
// binaries in the given directory.
package main

import (
	"os"

	"github.com/signalsfoundry/interop-sim/internal/cli"
)

func main() {
	os.Exit(cli.Execute("big"))
}
