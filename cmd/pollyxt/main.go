package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "convert":
		os.Exit(handleConvert(args))
	case "stations":
		os.Exit(handleStations(args))
	case "version":
		fmt.Printf("pollyxt version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pollyxt - PollyXT raw data to SCC product converter

Usage: pollyxt <command> [options]

Commands:
  convert     Convert PollyXT files or directories into SCC products
  stations    List the station periods held in the local catalog
  version     Show version information
  help        Show this help message

Examples:
  # Convert one day into 5 minute windows, looking stations up online
  pollyxt convert -in data/2023-07-14 -out products -metadata-url https://scc.example.org/admin/stations/

  # Convert one hour with the local catalog only, failing on any problem
  pollyxt convert -in data -start 2023-07-14T17:00 -end 2023-07-14T18:00 -metadata-db stations.db -strict

  # Show what the catalog knows about one station
  pollyxt stations -metadata-db stations.db -station arm

Run 'pollyxt <command> -h' for command options.`)
}
