package main

import (
	"context"
	"fmt"
	"os"

	"github.com/GoCodeAlone/modhost/cmd/modhost/cmd"
)

func main() {
	cli := cmd.New()
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
