package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "wavalidator: %v\n", err)
		os.Exit(1)
	}
}
