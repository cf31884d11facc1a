// Package main is the entry point for the xnet user-space TCP/IP stack.
package main

import (
	"fmt"
	"os"

	"github.com/xuanhao44/net-lab-2023/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
