// Package main provides the entry point for the codeindexmcp CLI.
package main

import (
	"os"

	"github.com/aman-cerp/codeindex-mcp/cmd/codeindexmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
