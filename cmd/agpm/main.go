package main

import (
	"os"

	"github.com/agpm-dev/agpm/cmd/agpm/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
