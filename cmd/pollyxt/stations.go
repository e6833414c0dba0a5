package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/config"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/db"
)

func handleStations(args []string) int {
	fs := flag.NewFlagSet("stations", flag.ContinueOnError)
	metadataDB := fs.String("metadata-db", "", "Local station catalog (SQLite)")
	station := fs.String("station", "", "Only list periods of this station")
	envFile := fs.String("env", "", "Environment file (default .env, optional)")
	forget := fs.Bool("forget", false, "Delete the periods of -station instead of listing them")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pc := config.Empty()
	if err := pc.ApplyEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if *metadataDB != "" {
		pc.MetadataDB = config.PtrString(*metadataDB)
	}
	if pc.GetMetadataDB() == "" {
		fmt.Fprintln(os.Stderr, "Error: -metadata-db is required")
		return 2
	}

	catalog, err := db.NewDB(pc.GetMetadataDB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer catalog.Close()

	ctx := context.Background()
	if *forget {
		if *station == "" {
			fmt.Fprintln(os.Stderr, "Error: -forget needs -station")
			return 2
		}
		n, err := catalog.DeleteStationPeriods(ctx, *station)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Removed %d period(s) of %s\n", n, *station)
		return 0
	}

	periods, err := catalog.ListStationPeriods(ctx, *station)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := printPeriods(os.Stdout, periods); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printPeriods(w io.Writer, periods []*db.StationPeriod) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATION\tSCC\tNAME\tFROM\tTO\tDAY\tNIGHT\tCHANNELS\tSOURCE")
	for _, p := range periods {
		to := "-"
		if p.ValidTo != nil {
			to = p.ValidTo.UTC().Format(time.DateTime)
		}
		channels := make([]string, len(p.ChannelIDs))
		for i, id := range p.ChannelIDs {
			channels[i] = strconv.Itoa(id)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			p.StationID, p.SCCCode, p.Name, p.ValidFrom.UTC().Format(time.DateTime), to,
			p.SystemIDDay, p.SystemIDNight, strings.Join(channels, ","), p.Source)
	}
	return tw.Flush()
}
