// Command mlserve runs the model manager behind an operational HTTP surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mlserve:", err)
		os.Exit(1)
	}
}
