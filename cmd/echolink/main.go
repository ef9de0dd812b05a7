// Command echolink is a resilient client for length-prefixed TCP servers.
//
// Usage:
//
//	echolink [global flags] <command>
//
// Commands:
//
//	run          send a payload on an interval and print every reply
//	interactive  read lines from a prompt and print each reply
//	log view     print a protocol capture file
//	log stats    summarize a protocol capture file
//	version      print build information
//
// Examples:
//
//	# Talk to the local server, reconnecting as needed
//	echolink run
//
//	# Locate the server over mDNS and capture the traffic
//	echolink --discover _echolink._tcp --protocol-log client.elog interactive
//
//	# Show only outgoing frames of a capture
//	echolink log view --direction out client.elog
package main

import (
	"fmt"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
