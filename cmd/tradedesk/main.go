package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/tradedesk/cmd/tradedesk/cmd"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()
	cmd.Execute()
}
