// Command snapdump prints a snapshot recording written by the server.
//
// Usage:
//
//	snapdump [-from N] [-to N] [-slot N] [-at F] recording.mdsr
//
// With -at, the recording is replayed into a snapshot buffer and the world is
// printed as interpolated at fractional frame F instead.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/record"
	"github.com/moonduel/server/internal/snapshot"
)

func main() {
	from := flag.Int("from", 0, "first frame to print")
	to := flag.Int("to", math.MaxInt32, "last frame to print")
	slot := flag.Int("slot", -1, "only this avatar slot; -1 = all active")
	at := flag.Float64("at", -1, "interpolate at this fractional frame")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: snapdump [-from N] [-to N] [-slot N] [-at F] <recording>")
		os.Exit(2)
	}
	if err := run(flag.Arg(0), int32(*from), int32(*to), *slot, *at); err != nil {
		fmt.Fprintf(os.Stderr, "snapdump: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, from, to int32, slot int, at float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd, err := record.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	h := rd.Header()
	fmt.Printf("recording %s  version %d  sim_dt %.3f ms\n\n", path, h.Version, h.SimDt)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "frame\tslot\tstate\tsince\tx\ty\tz\tspeed\ttarget\tentities")

	var buf *snapshot.Buffer
	if at >= 0 {
		buf = snapshot.NewBuffer(snapshot.DefaultFrames)
	}

	frames := 0
	for {
		s, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("frame after %d: %w", frames, err)
		}
		frames++
		if buf != nil {
			if buf.Accepts(s.Frame) {
				if err := buf.Set(s); err != nil {
					return err
				}
			}
			if float64(s.Frame) >= at+1 {
				break
			}
			continue
		}
		if s.Frame < from || s.Frame > to {
			continue
		}
		printSnapshot(tw, &s, slot)
	}

	if buf != nil {
		var out snapshot.Snapshot
		if err := buf.Lerp(at, &out); err != nil {
			return fmt.Errorf("interpolate at %.3f: %w", at, err)
		}
		printSnapshot(tw, &out, slot)
	}
	tw.Flush()
	fmt.Printf("\n%d frames read\n", frames)
	return nil
}

func printSnapshot(w io.Writer, s *snapshot.Snapshot, only int) {
	for i, a := range s.Avatars {
		flags := avatar.Flags(a.Flags)
		if !flags.Has(avatar.FlagActive) || (only >= 0 && i != only) {
			continue
		}
		target := "-"
		if idx, ok := flags.Target(); ok {
			target = fmt.Sprint(idx)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%.3f\t%.3f\t%.3f\t%.2f\t%s\t%d\n",
			s.Frame, i, avatar.State(a.State), s.Frame-a.StateStartFrame,
			a.Origin.X(), a.Origin.Y(), a.Origin.Z(), a.Speed, target, len(s.Entities))
	}
}
