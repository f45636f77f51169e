package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/AnyUserName/avifbatch/internal/manifest"
	"github.com/AnyUserName/avifbatch/internal/pipeline"
)

// statsTop is how many of the heaviest sources are listed.
const statsTop = 10

var statsCmd = &cobra.Command{
	Use:   "stats <out_dir_or_manifest>",
	Short: "Display statistics for a conversion run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(_ *cobra.Command, args []string) error {
	m, _, err := manifest.Read(args[0])
	if err != nil {
		return err
	}
	printStats(os.Stdout, m)
	return nil
}

func printStats(w io.Writer, m *manifest.Manifest) {
	s := m.Stats
	info := m.Settings

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Manifest version: %d\n", m.Version)
	fmt.Fprintf(w, "  Generated:        %s\n", m.GeneratedAt)
	fmt.Fprintf(w, "  Run:              %s\n", m.RunID)
	fmt.Fprintf(w, "  Encoder:          %s q%d s%d %s %d-bit", info.Encoder, info.Quality, info.Speed, info.Subsampling, info.BitDepth)
	if info.Lossless {
		fmt.Fprint(w, " lossless")
	}
	fmt.Fprintln(w)
	if info.TargetSSIM > 0 {
		fmt.Fprintf(w, "  Target SSIM:      %.4f\n", info.TargetSSIM)
	}
	fmt.Fprintf(w, "  Workers:          %d  (threads %d)\n", info.Workers, info.Threads)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Files:            %d  (done %d, failed %d, skipped %d, cancelled %d)\n",
		s.TotalEntries, s.Done, s.Failed, s.Skipped, s.Cancelled)
	fmt.Fprintf(w, "  Input size:       %s\n", humanize.IBytes(uint64(s.TotalInputBytes)))
	fmt.Fprintf(w, "  Output size:      %s\n", humanize.IBytes(uint64(s.TotalOutputBytes)))
	if s.TotalInputBytes > 0 {
		ratio := float64(s.TotalOutputBytes) / float64(s.TotalInputBytes) * 100
		fmt.Fprintf(w, "  Compression:      %.1f%% of original\n", ratio)
	}

	var scored int
	var ssimSum float64
	minSSIM := 1.0
	for _, e := range m.Entries {
		if e.SSIM != nil {
			scored++
			ssimSum += *e.SSIM
			minSSIM = min(minSSIM, *e.SSIM)
		}
	}
	if scored > 0 {
		fmt.Fprintf(w, "  SSIM:             mean %.4f, min %.4f over %d files\n", ssimSum/float64(scored), minSSIM, scored)
	}
	fmt.Fprintln(w)

	// Heaviest converted sources.
	var done []manifest.Entry
	for _, e := range m.Entries {
		if pipeline.Status(e.Status) == pipeline.StatusDone {
			done = append(done, e)
		}
	}
	if len(done) > 0 {
		sort.Slice(done, func(i, j int) bool { return done[i].InputSize > done[j].InputSize })
		n := min(len(done), statsTop)
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleRounded)
		tw.SetTitle(fmt.Sprintf("Top %d heaviest (original → AVIF)", n))
		tw.AppendHeader(table.Row{"Source", "Original", "AVIF", "Saved", "Quality"})
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, Align: text.AlignRight},
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
		})
		for _, e := range done[:n] {
			saved := 0.0
			if e.InputSize > 0 {
				saved = (1 - float64(e.OutputSize)/float64(e.InputSize)) * 100
			}
			tw.AppendRow(table.Row{
				truncKey(e.Source, 40),
				humanize.IBytes(uint64(e.InputSize)),
				humanize.IBytes(uint64(e.OutputSize)),
				fmt.Sprintf("%.0f%%", saved),
				e.Quality,
			})
		}
		tw.Render()
		fmt.Fprintln(w)
	}

	// Failures by kind.
	kinds := map[string]int{}
	for _, e := range m.Entries {
		if e.Kind != "" {
			kinds[e.Kind]++
		}
	}
	if len(kinds) > 0 {
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "  Problems:\n")
		for _, k := range names {
			fmt.Fprintf(w, "    ⚠ %-18s %4d files\n", k, kinds[k])
		}
		fmt.Fprintln(w)
	}
}

func truncKey(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max+3:]
}
