package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.png"))
	touch(t, filepath.Join(dir, "a.JPG"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, ".hidden.png"))
	touch(t, filepath.Join(dir, ".cache", "c.png"))
	touch(t, filepath.Join(dir, "sub", "d.webp"))

	flat, err := Discover([]string{dir}, DiscoverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(flat) != 2 || filepath.Base(flat[0].AbsPath) != "a.JPG" || flat[0].Format != "jpeg" {
		t.Fatalf("flat = %+v", flat)
	}

	deep, err := Discover([]string{dir, filepath.Join(dir, "b.png")}, DiscoverOptions{Recursive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(deep) != 3 {
		t.Fatalf("recursive = %+v", deep)
	}
	if deep[2].RelPath != "sub/d.webp" {
		t.Errorf("rel path = %q", deep[2].RelPath)
	}
}

func TestDiscoverExplicitUnsupportedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	touch(t, path)
	got, err := Discover([]string{path}, DiscoverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Format != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestDiscoverMissingPath(t *testing.T) {
	if _, err := Discover([]string{filepath.Join(t.TempDir(), "nope")}, DiscoverOptions{}); err == nil {
		t.Fatal("missing path accepted")
	}
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "sub", "b.png"))
	sources, err := Discover([]string{dir}, DiscoverOptions{Recursive: true})
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out")
	s := settings()
	s.OutDir = out
	jobs := Plan(sources, s)
	if len(jobs) != 3 {
		t.Fatalf("jobs = %+v", jobs)
	}
	want := []string{
		filepath.Join(out, "a.avif"),
		filepath.Join(out, "a.png.avif"),
		filepath.Join(out, "sub", "b.avif"),
	}
	for i, j := range jobs {
		if j.DestinationPath != want[i] {
			t.Errorf("job %d dest = %s, want %s", i, j.DestinationPath, want[i])
		}
		if j.ID == "" || j.Quality != 50 || j.Speed != 10 {
			t.Errorf("job %d = %+v", i, j)
		}
	}
}

func TestPlannerKeepsCollisionsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	png := Source{AbsPath: filepath.Join(dir, "a.png"), Root: dir, RelPath: "a.png"}
	jpg := Source{AbsPath: filepath.Join(dir, "a.jpg"), Root: dir, RelPath: "a.jpg"}

	p := NewPlanner(settings())
	first := p.Job(png)
	second := p.Job(jpg)
	again := p.Job(png)
	jpgAgain := p.Job(jpg)

	if first.DestinationPath != filepath.Join(dir, "a.avif") {
		t.Errorf("a.png -> %s", first.DestinationPath)
	}
	if second.DestinationPath != filepath.Join(dir, "a.jpg.avif") {
		t.Errorf("a.jpg -> %s, want a.jpg.avif beside a.png's output", second.DestinationPath)
	}
	if again.DestinationPath != first.DestinationPath || jpgAgain.DestinationPath != second.DestinationPath {
		t.Errorf("replanned sources moved: %s, %s", again.DestinationPath, jpgAgain.DestinationPath)
	}
	if again.ID == first.ID {
		t.Error("replanned source reused the job ID")
	}
}
