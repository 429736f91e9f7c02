package main

import (
	"log"

	"github.com/tebeka/atexit"

	"github.com/axel-blaze-11/pheonix/internal/cli"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := cli.Execute(version); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
