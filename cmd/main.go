package main

import (
	"os"
)

func main() {
	if err := execute(newRootCmd()); err != nil {
		printError(err)
		os.Exit(1)
	}
}
