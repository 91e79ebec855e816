package main

import (
	"os"

	"trading-authority/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
