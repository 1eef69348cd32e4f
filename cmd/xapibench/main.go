package main

import (
	"context"
	"os"

	"github.com/nsqlite/xapibench/internal/xapibench"
)

func main() {
	// Run already printed the error.
	if err := xapibench.Run(context.Background()); err != nil {
		os.Exit(1)
	}
}
