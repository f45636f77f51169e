package main

import (
	"fmt"
	"os"

	"github.com/AnyUserName/avifbatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "avifbatch:", err)
		os.Exit(1)
	}
}
