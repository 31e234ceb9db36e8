// Command hlutool edits habitat records across the database and the GIS layer.
package main

import (
	"os"

	"github.com/lherron/hlutool/internal/cli"
)

func main() {
	os.Exit(cli.Main(cli.Execute))
}
