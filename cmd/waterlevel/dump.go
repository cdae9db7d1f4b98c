package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/waterlevel/internal/recorder"
	"github.com/banshee-data/waterlevel/internal/vision"
)

// dumpLog prints the records of a detection log as a table.
func dumpLog(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: dump-log <file>")
	}
	recs, err := recorder.ReadFile(args[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tROW\tLEVEL")
	found, measured := 0, 0
	for _, r := range recs {
		row, level := "-", "-"
		if r.Found {
			found++
			row = fmt.Sprint(r.Row)
		}
		if r.HasLevel {
			measured++
			level = vision.FormatLevel(r.Level)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Seq, r.At.Format(time.RFC3339Nano), row, level)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	session := "-"
	if len(recs) > 0 {
		session = recs[0].Session
	}
	_, err = fmt.Fprintf(out, "session %s: %d frames, %d detected, %d measured\n", session, len(recs), found, measured)
	return err
}
