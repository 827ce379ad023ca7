// Package main implements the lockstress CLI tool.
//
// lockstress hammers an eventually fair mutex and checks the properties it
// promises: every increment performed under the lock is accounted for, the
// escalated waiter count drains back to zero, and a patient waiter is not
// starved by a greedy one.
//
// Usage:
//
//	lockstress stress -workers 64 -iterations 1000 -mode mixed
//	lockstress fairness -hold 100us -duration 2s
//	lockstress version
package main

import (
	"fmt"
	"os"

	"github.com/jothan/async-lock/mutex"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "stress":
		stressCommand(os.Args[2:])
	case "fairness":
		fairnessCommand(os.Args[2:])
	case "version", "--version":
		info := mutex.GetInfo()
		fmt.Printf("lockstress version %s (%s, threshold %v)\n",
			info.Version, info.Algorithm, info.StarvationThreshold)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`lockstress - stress and fairness checks for the async-lock mutex

USAGE:
    lockstress <command> [flags]

COMMANDS:
    stress     Run concurrent increments and verify the total
    fairness   Measure how long a patient waiter waits behind a greedy holder
    version    Show version information
    help       Show this help message

EXAMPLES:
    # 64 goroutines, 1000 increments each, parked on the lock
    lockstress stress -workers 64 -iterations 1000 -mode blocking

    # The same load as cooperative tasks on 4 executor workers
    lockstress stress -workers 64 -mode coop -executor 4

    # Half goroutines, half tasks, with debug logging
    lockstress stress -mode mixed -v

    # Greedy holder against a patient waiter for two seconds
    lockstress fairness -hold 100us -duration 2s

Run 'lockstress <command> -h' for the flags of a command.
`)
}
