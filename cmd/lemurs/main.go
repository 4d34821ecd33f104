// lemurs is a TUI display and login manager for the virtual terminal.
package main

import (
	"os"

	"github.com/coastalwhite/lemurs/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
