package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/AnyUserName/avifbatch/internal/pipeline"
)

// Summary is the outcome of a whole run. Byte totals cover successful jobs
// only, so the ratio compares like with like.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int

	TotalInputBytes  int64
	TotalOutputBytes int64
	Elapsed          time.Duration

	Failures []Failure
	// Results holds every result when the reporter was asked to keep them.
	Results []pipeline.Result
}

// Failure is one failed or cancelled job.
type Failure struct {
	Path string
	Kind pipeline.Kind
	Err  string
}

// ExitErr returns an error when any job failed or was cancelled.
func (s Summary) ExitErr() error {
	if s.Failed == 0 && s.Cancelled == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d jobs failed, %d cancelled", s.Failed, s.Total, s.Cancelled)
}

// Saved returns bytes saved across successful jobs; negative means growth.
func (s Summary) Saved() int64 {
	return s.TotalInputBytes - s.TotalOutputBytes
}

// SizeChange describes the output size relative to the input, for example
// "-62.5%" or "~4.1X smaller".
func (s Summary) SizeChange() string {
	if s.TotalInputBytes == 0 || s.TotalOutputBytes == 0 {
		return "n/a"
	}
	ratio := float64(s.TotalInputBytes) / float64(s.TotalOutputBytes)
	if ratio >= 2 {
		return fmt.Sprintf("~%.1fX smaller", ratio)
	}
	delta := (float64(s.TotalOutputBytes) - float64(s.TotalInputBytes)) / float64(s.TotalInputBytes) * 100
	return fmt.Sprintf("%+.1f%%", delta)
}

// Line is the one-line summary shown at the end of a run and in
// notifications.
func (s Summary) Line() string {
	line := fmt.Sprintf("Encoded %d of %d files in %s", s.Succeeded, s.Total, s.Elapsed.Round(time.Millisecond))
	if s.Succeeded > 0 {
		line += fmt.Sprintf(" / %s -> %s (%s)",
			humanize.IBytes(uint64(s.TotalInputBytes)),
			humanize.IBytes(uint64(s.TotalOutputBytes)),
			s.SizeChange())
	}
	return line
}

// Add folds one result into the summary.
func (s *Summary) Add(r pipeline.Result) {
	s.Total++
	switch r.Status {
	case pipeline.StatusDone:
		s.Succeeded++
		s.TotalInputBytes += r.InputSize
		s.TotalOutputBytes += r.EncodedSize
	case pipeline.StatusSkipped:
		s.Skipped++
	case pipeline.StatusCancelled:
		s.Cancelled++
		s.Failures = append(s.Failures, failure(r))
	default:
		s.Failed++
		s.Failures = append(s.Failures, failure(r))
	}
}

func failure(r pipeline.Result) Failure {
	f := Failure{Path: r.Job.SourcePath, Kind: r.Kind}
	if f.Kind == pipeline.KindNone {
		f.Kind = pipeline.KindOf(r.Err)
	}
	if r.Err != nil {
		f.Err = r.Err.Error()
	}
	return f
}

// Render writes the summary as a table, followed by the failures.
func Render(w io.Writer, s Summary) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Files", "Done", "Skipped", "Failed", "Cancelled", "Input", "Output", "Change", "Time"})
	tw.AppendRow(table.Row{
		s.Total, s.Succeeded, s.Skipped, s.Failed, s.Cancelled,
		humanize.IBytes(uint64(s.TotalInputBytes)),
		humanize.IBytes(uint64(s.TotalOutputBytes)),
		s.SizeChange(),
		s.Elapsed.Round(time.Millisecond).String(),
	})
	alignRight := make([]table.ColumnConfig, 0, 9)
	for i := 1; i <= 9; i++ {
		alignRight = append(alignRight, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(alignRight)

	var b strings.Builder
	b.WriteString(tw.Render())
	b.WriteByte('\n')

	if len(s.Failures) > 0 {
		ft := table.NewWriter()
		ft.SetStyle(table.StyleRounded)
		ft.AppendHeader(table.Row{"Failed file", "Kind", "Error"})
		for _, f := range s.Failures {
			ft.AppendRow(table.Row{f.Path, string(f.Kind), f.Err})
		}
		b.WriteString(ft.Render())
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
