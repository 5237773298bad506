package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/storage"
)

func runCallsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	service := fs.String("service", "", "Only calls to this service")
	outcome := fs.String("outcome", "", "Only calls with this outcome (completed, failed, timed_out, rejected, acknowledged)")
	limit := fs.Int("limit", 20, "Maximum number of rows")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := journal.New(db).List(ctx, journal.ListFilter{
		Service: *service,
		Outcome: journal.Outcome(*outcome),
		Limit:   *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list calls: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(entries) == 0 {
		fmt.Println("No calls recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tSTATUS\tOUTCOME\tSERVICE\tMETHOD\tDURATION\tCALL ID")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			e.CompletedAt.Local().Format(time.DateTime),
			e.Status,
			e.Outcome,
			e.Service,
			e.Method,
			e.Duration.Round(time.Millisecond),
			e.CallID,
		)
	}
	_ = tw.Flush()
	return 0
}
