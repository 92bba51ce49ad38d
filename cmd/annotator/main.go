package main

import (
	"os"

	"github.com/solatis/annotator/cmd/annotator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
