package main

import (
	"github.com/elchief84/defi-liquidation-keeper/internal/cli"
)

func main() {
	cli.Execute()
}
