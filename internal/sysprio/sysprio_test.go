//go:build linux

package sysprio

import (
	"runtime"
	"testing"
)

func TestParse(t *testing.T) {
	for _, in := range []string{"", "default", "min", "max"} {
		if _, err := Parse(in); err != nil {
			t.Errorf("Parse(%q): %v", in, err)
		}
	}
	if _, err := Parse("highest"); err == nil {
		t.Error("Parse(highest) succeeded")
	}
}

func TestApplyDefaultIsNoop(t *testing.T) {
	before, err := current()
	if err != nil {
		t.Fatal(err)
	}
	if err := Apply(Default); err != nil {
		t.Fatalf("apply: %v", err)
	}
	after, _ := current()
	if before != after {
		t.Errorf("nice changed %d -> %d", before, after)
	}
}

func TestApplyMinLowersPriority(t *testing.T) {
	// Lowering priority is irreversible without privileges, so run it on a
	// thread that dies with the test goroutine.
	done := make(chan struct{})
	var (
		nice int
		err  error
	)
	go func() {
		defer close(done)
		runtime.LockOSThread()
		// Not unlocked: the runtime discards this thread on exit.
		if err = setOne(0, niceMin); err != nil {
			return
		}
		nice, err = current()
	}()
	<-done
	if err != nil {
		t.Fatalf("setpriority: %v", err)
	}
	if nice != niceMin {
		t.Errorf("nice = %d, want %d", nice, niceMin)
	}
}
