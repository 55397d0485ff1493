package main

import (
	"os"

	"datadb/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
