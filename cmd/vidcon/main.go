package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cwrk-planet/vidcon/internal/cli"
)

func main() {
	root := cli.NewRootCmd(cli.Options{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "vidcon:", err)
		os.Exit(1)
	}
}
