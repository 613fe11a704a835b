package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/emergingrobotics/go-solo6010/pkg/encoder"
	"github.com/emergingrobotics/go-solo6010/pkg/trace"
)

func newInspectCommand() *cobra.Command {
	var summary bool

	cmd := &cobra.Command{
		Use:   "inspect <trace>",
		Short: "Decode and print a descriptor trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return inspect(f, cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "Print only per-channel totals")
	return cmd
}

type traceTotals struct {
	frames int
	keys   int
	bytes  uint64
}

func inspect(r io.Reader, out io.Writer, summary bool) error {
	tr := trace.NewReader(r)
	totals := make(map[int]*traceTotals)
	n := 0

	for {
		d, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		n++

		t := totals[d.Channel]
		if t == nil {
			t = &traceTotals{}
			totals[d.Channel] = t
		}
		t.frames++
		t.bytes += uint64(d.MPEGSize)
		if d.Vop == encoder.VopI {
			t.keys++
		}

		if !summary {
			fmt.Fprintf(out, "%8d  ch %2d  %s  mpeg 0x%06x+%-7d jpeg 0x%06x+%-7d %s\n",
				d.Seq, d.Channel, d.Vop, d.MPEGOffset, d.MPEGSize, d.JPEGOffset, d.JPEGSize,
				d.Timestamp.Format("15:04:05.000000"))
		}
	}

	channels := make([]int, 0, len(totals))
	for ch := range totals {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	fmt.Fprintf(out, "%d descriptors\n", n)
	for _, ch := range channels {
		t := totals[ch]
		fmt.Fprintf(out, "  channel %2d: %d frames, %d key, %d bytes\n", ch, t.frames, t.keys, t.bytes)
	}
	return nil
}
