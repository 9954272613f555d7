package main

import (
	"os"

	"github.com/accmarket/market-bfa-go/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
