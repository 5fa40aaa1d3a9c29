package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hourkeep/internal/analysis"
	"hourkeep/internal/app"
	"hourkeep/internal/hourclock"
)

func main() {
	var (
		cfgPath      string
		exportFormat string
		outPath      string
		listMissed   bool
		recordText   string
		recordHours  string
		noteText     string
		analyzeRange string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&exportFormat, "export", "", "export the activity log and exit (json or text)")
	flag.StringVar(&outPath, "out", "", "export output file (default stdout)")
	flag.BoolVar(&listMissed, "missed", false, "print missed hours and exit")
	flag.StringVar(&recordText, "record", "", "record this activity text and exit")
	flag.StringVar(&recordHours, "hours", "", "hours of today to record, e.g. \"9,10\" (default: all missed)")
	flag.StringVar(&noteText, "note", "", "save a note for today and exit")
	flag.StringVar(&analyzeRange, "analyze", "", "run an AI review of the activity log and exit (today, yesterday, 3days, week, month)")
	flag.Parse()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if exportFormat != "" || listMissed || recordText != "" || noteText != "" || analyzeRange != "" {
		if err := runOneShot(a, exportFormat, outPath, listMissed, recordText, recordHours, noteText, analyzeRange); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopAppStop
	select {
	case <-ctx.Done():
		reason = app.StopSIGTERM
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// runOneShot handles the non-daemon modes: note, record, missed,
// analyze, export. Modes compose in that order, so e.g. -record +
// -export works.
func runOneShot(a *app.App, exportFormat, outPath string, listMissed bool, recordText, recordHours, noteText, analyzeRange string) error {
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if noteText != "" {
		if err := a.SaveNote(ctx, noteText); err != nil {
			return err
		}
		fmt.Println("note saved for today")
	}

	if recordText != "" {
		hours, err := parseHours(recordHours)
		if err != nil {
			return err
		}
		recorded, err := a.Record(ctx, hours, recordText)
		if err != nil {
			return err
		}
		if len(recorded) == 0 {
			fmt.Println("nothing to record: no missed hours")
		} else {
			for _, h := range recorded {
				fmt.Println("recorded", hourclock.FormatRange(h))
			}
		}
	}

	if listMissed {
		missed, err := a.MissedHours(ctx)
		if err != nil {
			return err
		}
		if len(missed) == 0 {
			fmt.Println("no missed hours")
		}
		for _, h := range missed {
			fmt.Println(hourclock.FormatRange(h))
		}
	}

	if analyzeRange != "" {
		rep, err := a.Analyze(ctx, analyzeRange)
		if err != nil {
			return err
		}
		printReport(rep)
	}

	if exportFormat != "" {
		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			out = f
		}
		return a.Export(ctx, exportFormat, out)
	}
	return nil
}

func printReport(rep *analysis.Report) {
	if rep.Cached {
		fmt.Printf("(cached analysis from %s)\n\n", rep.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println(rep.Summary)
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Printf("\n%s:\n", title)
		for _, it := range items {
			fmt.Println("  -", it)
		}
	}
	section("Patterns", rep.Patterns)
	section("Insights", rep.Insights)
	section("Recommendations", rep.Recommendations)
}

// parseHours turns "9,14" into today's hour markers. Empty input means
// "let the app pick" (all missed hours).
func parseHours(s string) ([]time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	day := hourclock.DayStart(time.Now())
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 23 {
			return nil, fmt.Errorf("invalid hour %q (want 0-23)", part)
		}
		out = append(out, day.Add(time.Duration(n)*time.Hour))
	}
	return out, nil
}
