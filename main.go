// Package main is the entry point for the kpt application
package main

import (
	"github.com/ethpandaops/kpt/cmd"
)

func main() {
	cmd.Execute()
}
