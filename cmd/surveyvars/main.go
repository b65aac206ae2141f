package main

import (
	"os"

	"github.com/solatis/surveyvars/cmd/surveyvars/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
