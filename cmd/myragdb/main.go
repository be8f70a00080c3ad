// Package main provides the entry point for the myragdb CLI.
package main

import (
	"os"

	"github.com/lballaty/myragdb/cmd/myragdb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
