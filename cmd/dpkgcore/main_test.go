package main

import (
	"fmt"
	"testing"

	"github.com/etnz/dpkgcore/engine"
)

func TestForceSetSetAccumulatesRepeatedFlags(t *testing.T) {
	f := make(forceSet)
	f.Set("overwrite")
	f.Set("depends")
	flags := f.toFlags()
	if !flags.Overwrite || !flags.Depends {
		t.Fatalf("toFlags() = %+v, want Overwrite and Depends set", flags)
	}
	if flags.Conflicts || flags.Hold {
		t.Fatalf("toFlags() = %+v, want unmentioned flags unset", flags)
	}
}

func TestStatusAndAvailablePathsAreSiblings(t *testing.T) {
	if got, want := statusPath("/var/lib/dpkg"), "/var/lib/dpkg/status"; got != want {
		t.Errorf("statusPath() = %q, want %q", got, want)
	}
	if got, want := availablePath("/var/lib/dpkg"), "/var/lib/dpkg/available"; got != want {
		t.Errorf("availablePath() = %q, want %q", got, want)
	}
}

func TestAsEngineErrorUnwrapsWrappedChain(t *testing.T) {
	inner := engine.Wrap(engine.KindFileConflict, "foo", "/etc/foo.conf", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("unpacking foo: %w", inner)

	var got *engine.Error
	if !asEngineError(wrapped, &got) {
		t.Fatal("asEngineError() = false, want true")
	}
	if got.Kind != engine.KindFileConflict {
		t.Errorf("Kind = %v, want KindFileConflict", got.Kind)
	}
}

func TestAsEngineErrorFalseForPlainError(t *testing.T) {
	var got *engine.Error
	if asEngineError(fmt.Errorf("plain"), &got) {
		t.Fatal("asEngineError() = true, want false for a plain error")
	}
}
