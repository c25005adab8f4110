// Package main is the entry point for the sessiontag load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - tabs:  open N tabs, each tagged and bound to its own WebSocket
//   - state: pairs of tabs write state and check pushes stay in their tab
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "tabs":
		runTabs(os.Args[2:])
	case "state":
		runState(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  tabs     Tab saturation test: tags and holds N tabs, checks every marker is unique")
	fmt.Println("  state    State isolation test: tabs write state and verify no push crosses tabs")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
