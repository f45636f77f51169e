package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/hasher"
	"github.com/AnyUserName/avifbatch/internal/imagefile"
	"github.com/AnyUserName/avifbatch/internal/naming"
)

// Job is one source file to convert. It is built once and never modified.
type Job struct {
	ID         string
	SourcePath string
	// DestinationPath is where the output goes under the "same" naming
	// mode. Content-based modes keep its directory and replace the name.
	DestinationPath string
	Quality         int
	Speed           int
	Size            int64
}

// Settings are the encoding parameters shared by every job of a run.
type Settings struct {
	Encoder encoder.Options
	Naming  naming.Mode
	// OutDir mirrors the source tree under a separate directory; empty
	// writes each output next to its source.
	OutDir string
	Limits imagefile.Limits
	Read   imagefile.Options

	// TargetSSIM > 0 searches for the lowest quality reaching it.
	TargetSSIM     float64
	MinQuality     int
	MaxQuality     int
	SearchAttempts int

	// SaveDiff writes an SSIM difference overlay next to each output.
	SaveDiff     bool
	DeleteSource bool
	// Benchmark encodes and scores every job but writes nothing: no
	// outputs, no cache entries, no source deletion.
	Benchmark bool
}

// CacheKey identifies the settings that influence the encoded bytes and the
// output name, so a cached output is only reused for an identical
// configuration. Where the output lives is checked against the job itself.
func (s Settings) CacheKey(backend string, quality, speed int) string {
	o := s.Encoder.Normalized()
	key := fmt.Sprintf("enc=%s q=%d s=%d yuv=%s depth=%d lossless=%t alpha=%t name=%s",
		backend, quality, speed, o.Subsampling, o.BitDepth, o.Lossless, !s.Read.RemoveAlpha, s.Naming)
	if s.TargetSSIM > 0 {
		key += fmt.Sprintf(" ssim>=%.4f", s.TargetSSIM)
	}
	return key
}

// Plan turns discovered sources into jobs. Sources that would land on the
// same output path keep their original extension in the name; content-based
// names cannot collide that way.
func Plan(sources []Source, s Settings) []Job {
	p := NewPlanner(s)
	jobs := make([]Job, 0, len(sources))
	for _, src := range sources {
		jobs = append(jobs, p.Job(src))
	}
	return jobs
}

// Planner assigns destinations and remembers which source owns each one, so
// sources planned one at a time, as in watch mode, resolve collisions the
// same way a batch does. It is not safe for concurrent use.
type Planner struct {
	settings Settings
	owners   map[string]string // destination -> source
}

func NewPlanner(s Settings) *Planner {
	return &Planner{settings: s, owners: make(map[string]string)}
}

// Job plans src. A source planned again keeps its earlier destination.
func (p *Planner) Job(src Source) Job {
	dir := filepath.Dir(src.AbsPath)
	if p.settings.OutDir != "" {
		dir = filepath.Join(p.settings.OutDir, filepath.FromSlash(filepath.Dir(src.RelPath)))
	}
	base := filepath.Base(src.AbsPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	dest := filepath.Join(dir, stem+naming.Ext)
	if owner, ok := p.owners[dest]; ok && owner != src.AbsPath && !p.settings.Naming.ContentBased() {
		dest = filepath.Join(dir, base+naming.Ext)
	}
	p.owners[dest] = src.AbsPath
	return NewJob(src.AbsPath, dest, src.Size, p.settings)
}

// NewJob builds a single job with the run's quality and speed.
func NewJob(source, dest string, size int64, s Settings) Job {
	return Job{
		ID:              uuid.NewString(),
		SourcePath:      source,
		DestinationPath: dest,
		Quality:         s.Encoder.Quality,
		Speed:           s.Encoder.Speed,
		Size:            size,
	}
}

// Submit returns a closed channel holding jobs, for batch runs.
func Submit(jobs []Job) <-chan Job {
	ch := make(chan Job, len(jobs))
	for _, j := range jobs {
		ch <- j
	}
	close(ch)
	return ch
}

// Status is the terminal outcome of a job.
type Status string

const (
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Skip reasons.
const (
	SkipDuplicate = "duplicate"
	SkipCached    = "cached"
)

// Result is the single outcome of a job.
type Result struct {
	Job         Job
	Status      Status
	OutputPath  string
	InputSize   int64
	EncodedSize int64
	Elapsed     time.Duration
	Kind        Kind
	Err         error
	SkipReason  string

	Width, Height int
	Quality       int // quality actually used
	Threads       int
	Scored        bool
	SSIM          float64
	PSNR          float64

	SourceDigest hasher.Digest
	OutputDigest hasher.Digest
}

// Succeeded reports whether the job wrote an output.
func (r Result) Succeeded() bool { return r.Status == StatusDone }

// State is a step in a job's life.
type State int

const (
	StateQueued State = iota
	StateDecoding
	StateEncoding
	StateScoring
	StateHashing
	StateWriting
	StateDone
	StateFailed
	StateSkipped
	StateCancelled
)

var stateNames = [...]string{
	"queued", "decoding", "encoding", "scoring", "hashing", "writing",
	"done", "failed", "skipped", "cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func terminalState(st Status) State {
	switch st {
	case StatusDone:
		return StateDone
	case StatusSkipped:
		return StateSkipped
	case StatusCancelled:
		return StateCancelled
	}
	return StateFailed
}
