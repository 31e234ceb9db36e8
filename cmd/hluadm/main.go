// Command hluadm administers an hlutool database and its feature layer.
package main

import (
	"os"

	"github.com/lherron/hlutool/internal/cli"
)

func main() {
	os.Exit(cli.Main(cli.ExecuteAdmin))
}
