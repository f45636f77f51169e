package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnyUserName/avifbatch/internal/dedup"
	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/imagefile"
	"github.com/AnyUserName/avifbatch/internal/naming"
	"github.com/AnyUserName/avifbatch/internal/scorer"
)

// fakeEncoder produces a recognisable payload and records how it was used.
type fakeEncoder struct {
	delay time.Duration

	mu          sync.Mutex
	calls       int
	threadsUsed int
	maxThreads  int
}

func (f *fakeEncoder) Name() string    { return "fake" }
func (f *fakeEncoder) Available() bool { return true }

func (f *fakeEncoder) Encode(ctx context.Context, px *imagefile.PixelBuffer, opts encoder.Options) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.threadsUsed += opts.Threads
	if f.threadsUsed > f.maxThreads {
		f.maxThreads = f.threadsUsed
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.threadsUsed -= opts.Threads
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(fmt.Sprintf("AVIF %dx%d q%d", px.Width, px.Height, opts.Quality)), nil
}

func (f *fakeEncoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testImage(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeCorruptPNG writes a PNG cut off in the middle of its pixel data.
func writeCorruptPNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(64, 64, 9)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes()[:buf.Len()/2], 0o644); err != nil {
		t.Fatal(err)
	}
}

func settings() Settings {
	return Settings{
		Encoder: encoder.Options{Quality: 50, Speed: 10, Subsampling: encoder.Subsample420, BitDepth: 8},
		Naming:  naming.Same,
		Limits:  imagefile.DefaultLimits(),
	}
}

func plan(t *testing.T, s Settings, paths ...string) []Job {
	t.Helper()
	sources, err := Discover(paths, DiscoverOptions{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return Plan(sources, s)
}

func runAll(t *testing.T, ctx context.Context, cfg Config, jobs []Job) []Result {
	t.Helper()
	cfg.Expected = len(jobs)
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var out []Result
	for r := range s.Run(ctx, Submit(jobs)) {
		out = append(out, r)
	}
	return out
}

func count(results []Result, st Status) int {
	n := 0
	for _, r := range results {
		if r.Status == st {
			n++
		}
	}
	return n
}

func byName(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[filepath.Base(r.Job.SourcePath)] = r
	}
	return m
}

func TestMixedBatchScenario(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), testImage(100, 100, 1))
	writeJPEG(t, filepath.Join(dir, "b.jpg"), testImage(200, 200, 2))
	writeCorruptPNG(t, filepath.Join(dir, "c.png"))

	results := runAll(t, context.Background(), Config{
		Settings: settings(),
		Encoder:  &encoder.WASMEncoder{},
		Workers:  2,
	}, plan(t, settings(), dir))

	if len(results) != 3 || count(results, StatusDone) != 2 || count(results, StatusFailed) != 1 {
		t.Fatalf("results: %d total, %d done, %d failed",
			len(results), count(results, StatusDone), count(results, StatusFailed))
	}

	got := byName(results)
	if r := got["c.png"]; r.Kind != KindDecode {
		t.Errorf("c.png kind = %q (%v), want DecodeError", r.Kind, r.Err)
	}
	for name, size := range map[string]int{"a.png": 100, "b.jpg": 200} {
		r := got[name]
		data, err := os.ReadFile(r.OutputPath)
		if err != nil {
			t.Fatalf("%s: read output: %v", name, err)
		}
		px, err := encoder.Decode(data)
		if err != nil {
			t.Fatalf("%s: decode output: %v", name, err)
		}
		if px.Width != size || px.Height != size {
			t.Errorf("%s: output %dx%d, want %dx%d", name, px.Width, px.Height, size, size)
		}
		if r.OutputDigest == "" || r.SourceDigest == "" || r.EncodedSize != int64(len(data)) {
			t.Errorf("%s: result = %+v", name, r)
		}
		if filepath.Ext(r.OutputPath) != ".avif" {
			t.Errorf("%s: output %s", name, r.OutputPath)
		}
	}
}

func TestMalformedInputsDoNotStopBatch(t *testing.T) {
	dir := t.TempDir()
	const n, k = 8, 3
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("img%02d.png", i))
		if i < k {
			writeCorruptPNG(t, path)
			continue
		}
		writePNG(t, path, testImage(16, 16, uint8(i)))
	}

	enc := &fakeEncoder{}
	results := runAll(t, context.Background(), Config{
		Settings: settings(),
		Encoder:  enc,
		Workers:  3,
	}, plan(t, settings(), dir))

	if len(results) != n {
		t.Fatalf("%d results for %d jobs", len(results), n)
	}
	if f, d := count(results, StatusFailed), count(results, StatusDone); f != k || d != n-k {
		t.Fatalf("failed=%d done=%d, want %d/%d", f, d, k, n-k)
	}
	if enc.Calls() != n-k {
		t.Errorf("encoder called %d times, want %d", enc.Calls(), n-k)
	}
}

func TestDuplicateContentEncodedOnce(t *testing.T) {
	dir := t.TempDir()
	img := testImage(24, 24, 5)
	writePNG(t, filepath.Join(dir, "one.png"), img)
	writePNG(t, filepath.Join(dir, "two.png"), img)

	enc := &fakeEncoder{}
	results := runAll(t, context.Background(), Config{
		Settings: settings(),
		Encoder:  enc,
		Workers:  2,
	}, plan(t, settings(), dir))

	if enc.Calls() != 1 {
		t.Fatalf("encoder called %d times, want 1", enc.Calls())
	}
	if count(results, StatusDone) != 1 || count(results, StatusSkipped) != 1 {
		t.Fatalf("done=%d skipped=%d", count(results, StatusDone), count(results, StatusSkipped))
	}
	for _, r := range results {
		if r.Status == StatusSkipped && r.SkipReason != SkipDuplicate {
			t.Errorf("skip reason = %q", r.SkipReason)
		}
	}
}

func TestCachedOutputSkippedOnRerun(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), testImage(20, 20, 3))
	cache := dedup.NewMemory()

	enc := &fakeEncoder{}
	cfg := Config{Settings: settings(), Encoder: enc, Workers: 1, Cache: cache}
	first := runAll(t, context.Background(), cfg, plan(t, settings(), dir))
	if count(first, StatusDone) != 1 {
		t.Fatalf("first run: %+v", first)
	}

	second := runAll(t, context.Background(), cfg, plan(t, settings(), dir))
	if len(second) != 1 || second[0].Status != StatusSkipped || second[0].SkipReason != SkipCached {
		t.Fatalf("second run: %+v", second)
	}
	if second[0].OutputPath != first[0].OutputPath {
		t.Errorf("cached output %s, want %s", second[0].OutputPath, first[0].OutputPath)
	}

	// Different settings miss the cache.
	s := settings()
	s.Encoder.Quality = 80
	cfg.Settings = s
	third := runAll(t, context.Background(), cfg, plan(t, s, dir))
	if third[0].Status != StatusDone {
		t.Fatalf("third run with new quality: %+v", third[0])
	}
	if enc.Calls() != 2 {
		t.Errorf("encoder calls = %d, want 2", enc.Calls())
	}
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRevertedSourceReencodedAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	cache := dedup.NewMemory()
	cfg := Config{Settings: settings(), Encoder: &fakeEncoder{}, Workers: 1, Cache: cache}

	var statuses []string
	for _, size := range []int{20, 30, 20} {
		writePNG(t, src, testImage(size, size, 3))
		res := runAll(t, context.Background(), cfg, plan(t, settings(), dir))
		statuses = append(statuses, string(res[0].Status)+"/"+res[0].SkipReason)
	}
	if statuses[2] != "done/" {
		t.Fatalf("statuses = %v; third run must re-encode", statuses)
	}
	if got := readOutput(t, filepath.Join(dir, "a.avif")); got != "AVIF 20x20 q50" {
		t.Errorf("a.avif = %q, want the 20x20 encoding", got)
	}
}

func TestRevertedSourceReencodedInOneStream(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	dest := filepath.Join(dir, "a.avif")
	s := settings()
	sched, err := New(Config{Settings: s, Encoder: &fakeEncoder{}, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}

	jobs := make(chan Job)
	results := sched.Run(context.Background(), jobs)
	var got []Result
	for _, size := range []int{20, 30, 20} {
		writePNG(t, src, testImage(size, size, 3))
		info, err := os.Stat(src)
		if err != nil {
			t.Fatal(err)
		}
		jobs <- NewJob(src, dest, info.Size(), s)
		got = append(got, <-results)
	}
	close(jobs)
	for r := range results {
		got = append(got, r)
	}

	if len(got) != 3 {
		t.Fatalf("%d results", len(got))
	}
	for i, r := range got {
		if r.Status != StatusDone {
			t.Errorf("job %d = %s/%s, want done", i, r.Status, r.SkipReason)
		}
	}
	if out := readOutput(t, dest); out != "AVIF 20x20 q50" {
		t.Errorf("a.avif = %q, want the 20x20 encoding", out)
	}
}

func TestCacheIgnoresOutputElsewhere(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), testImage(16, 16, 2))
	cache := dedup.NewMemory()
	enc := &fakeEncoder{}

	first := runAll(t, context.Background(), Config{Settings: settings(), Encoder: enc, Cache: cache}, plan(t, settings(), dir))
	if first[0].Status != StatusDone {
		t.Fatalf("first run: %+v", first[0])
	}

	s := settings()
	s.OutDir = t.TempDir()
	second := runAll(t, context.Background(), Config{Settings: s, Encoder: enc, Cache: cache}, plan(t, s, dir))
	if second[0].Status != StatusDone {
		t.Fatalf("run into a new output dir = %s/%s, want done", second[0].Status, second[0].SkipReason)
	}
	if _, err := os.Stat(filepath.Join(s.OutDir, "a.avif")); err != nil {
		t.Errorf("nothing written to the new output dir: %v", err)
	}
}

func TestBenchmarkWritesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	writePNG(t, src, testImage(24, 24, 1))
	writePNG(t, filepath.Join(dir, "b.png"), testImage(12, 12, 2))
	cache := dedup.NewMemory()

	s := settings()
	s.Benchmark = true
	s.DeleteSource = true
	enc := &fakeEncoder{}
	results := runAll(t, context.Background(), Config{Settings: s, Encoder: enc, Cache: cache, Workers: 2}, plan(t, s, dir))

	if count(results, StatusDone) != 2 || enc.Calls() != 2 {
		t.Fatalf("done=%d encodes=%d", count(results, StatusDone), enc.Calls())
	}
	for _, r := range results {
		if r.EncodedSize == 0 || r.OutputDigest == "" {
			t.Errorf("%s: no encode stats: %+v", r.Job.SourcePath, r)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("directory has %d entries, want only the two sources", len(entries))
	}
	if cached, _ := cache.Entries(); len(cached) != 0 {
		t.Errorf("benchmark recorded %d cache entries", len(cached))
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source removed in benchmark mode: %v", err)
	}
}

func TestCancelLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	const n = 20
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("f%02d.png", i)), testImage(8, 8, uint8(i)))
	}
	s := settings()
	s.OutDir = out

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched, err := New(Config{
		Settings:    s,
		Encoder:     &fakeEncoder{delay: 40 * time.Millisecond},
		Workers:     2,
		Threads:     2,
		GracePeriod: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	jobs := plan(t, s, dir)
	results := sched.Run(ctx, Submit(jobs))
	var got []Result
	got = append(got, <-results)
	cancel()
	for r := range results {
		got = append(got, r)
	}

	if len(got) != n {
		t.Fatalf("%d results for %d jobs", len(got), n)
	}
	if count(got, StatusCancelled) == 0 {
		t.Fatal("no job was cancelled")
	}
	seen := make(map[string]bool)
	for _, r := range got {
		if seen[r.Job.ID] {
			t.Fatalf("job %s reported twice", r.Job.ID)
		}
		seen[r.Job.ID] = true
		if r.Status == StatusCancelled && KindOf(r.Err) != KindCancelled {
			t.Errorf("cancelled job kind = %q", KindOf(r.Err))
		}
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if IsTemp(e.Name()) {
			t.Errorf("temp file left behind: %s", e.Name())
			continue
		}
		data, err := os.ReadFile(filepath.Join(out, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(string(data), "AVIF 8x8") {
			t.Errorf("%s holds incomplete output %q", e.Name(), data)
		}
	}
	if len(entries) != count(got, StatusDone) {
		t.Errorf("%d files on disk, %d jobs done", len(entries), count(got, StatusDone))
	}
}

// stuckEncoder ignores its context and only returns once release is closed.
type stuckEncoder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *stuckEncoder) Name() string    { return "stuck" }
func (e *stuckEncoder) Available() bool { return true }

func (e *stuckEncoder) Encode(context.Context, *imagefile.PixelBuffer, encoder.Options) ([]byte, error) {
	e.once.Do(func() { close(e.started) })
	<-e.release
	return []byte("late"), nil
}

func TestGracePeriodBoundsUninterruptibleEncode(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), testImage(8, 8, 1))
	enc := &stuckEncoder{started: make(chan struct{}), release: make(chan struct{})}
	defer close(enc.release)

	sched, err := New(Config{Settings: settings(), Encoder: enc, Workers: 1, GracePeriod: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	results := sched.Run(ctx, Submit(plan(t, settings(), dir)))
	<-enc.started
	cancel()

	var got []Result
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case r, ok := <-results:
			if !ok {
				done = true
				continue
			}
			got = append(got, r)
		case <-timeout:
			t.Fatal("Run did not finish after the grace period")
		}
	}
	if len(got) != 1 || got[0].Status != StatusCancelled {
		t.Fatalf("results = %+v, want one cancelled job", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.avif")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("abandoned job left an output: %v", err)
	}
}

func TestThreadBudgetHonoured(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("t%02d.png", i)), testImage(8, 8, uint8(i)))
	}
	enc := &fakeEncoder{delay: 5 * time.Millisecond}
	results := runAll(t, context.Background(), Config{
		Settings: settings(),
		Encoder:  enc,
		Workers:  3,
		Threads:  6,
	}, plan(t, settings(), dir))

	if count(results, StatusDone) != 12 {
		t.Fatalf("done = %d", count(results, StatusDone))
	}
	if enc.maxThreads > 6 {
		t.Errorf("peak threads in use = %d, budget 6", enc.maxThreads)
	}
	for _, r := range results {
		if r.Threads < 2 {
			t.Errorf("%s got %d threads, want at least the share of 2", r.Job.SourcePath, r.Threads)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), testImage(8, 8, 1))

	var (
		mu     sync.Mutex
		states []State
	)
	results := runAll(t, context.Background(), Config{
		Settings: settings(),
		Encoder:  &fakeEncoder{},
		Workers:  1,
		OnState: func(_ Job, st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	}, plan(t, settings(), dir))
	if len(results) != 1 {
		t.Fatal(results)
	}

	want := []State{StateQueued, StateDecoding, StateEncoding, StateHashing, StateWriting, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestScoringAndTargetSearch(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), testImage(48, 48, 4))

	s := settings()
	s.TargetSSIM = 0.5
	s.MinQuality = 20
	s.MaxQuality = 90
	s.SearchAttempts = 3
	s.SaveDiff = true
	results := runAll(t, context.Background(), Config{
		Settings: s,
		Encoder:  &encoder.WASMEncoder{},
		Scorer:   scorer.New(true, scorer.Options{KeepDiff: true}),
		Workers:  1,
	}, plan(t, s, dir))

	r := results[0]
	if r.Status != StatusDone {
		t.Fatalf("result = %+v", r)
	}
	if !r.Scored || r.SSIM <= 0 || r.SSIM > 1 {
		t.Errorf("ssim = %f scored=%v", r.SSIM, r.Scored)
	}
	if r.Quality < 20 || r.Quality > 90 {
		t.Errorf("quality %d outside search range", r.Quality)
	}
	if _, err := os.Stat(diffPath(r.OutputPath)); err != nil {
		t.Errorf("overlay not written: %v", err)
	}
}

func TestDeleteSourceAfterVerifiedWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	writePNG(t, src, testImage(8, 8, 1))

	s := settings()
	s.DeleteSource = true
	results := runAll(t, context.Background(), Config{Settings: s, Encoder: &fakeEncoder{}}, plan(t, s, dir))
	if results[0].Status != StatusDone {
		t.Fatalf("result = %+v", results[0])
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("source still present: %v", err)
	}
	if _, err := os.Stat(results[0].OutputPath); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestContentNaming(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "photo.png"), testImage(8, 8, 1))
	s := settings()
	s.Naming = naming.SHA256
	results := runAll(t, context.Background(), Config{Settings: s, Encoder: &fakeEncoder{}}, plan(t, s, dir))

	name := filepath.Base(results[0].OutputPath)
	if len(name) != 64+len(naming.Ext) {
		t.Errorf("output name %q", name)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{context.Canceled, KindCancelled},
		{fmt.Errorf("x: %w", imagefile.ErrUnsupportedFormat), KindUnsupportedFormat},
		{fmt.Errorf("x: %w", imagefile.ErrDecode), KindDecode},
		{fmt.Errorf("x: %w", imagefile.ErrTooLarge), KindTooLarge},
		{fmt.Errorf("x: %w", encoder.ErrEncode), KindEncode},
		{scorer.ErrDimensionMismatch, KindDimensionMismatch},
		{&os.PathError{Op: "open", Path: "p", Err: os.ErrPermission}, KindIO},
		{newJobError("write", "p", context.DeadlineExceeded), KindCancelled},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
