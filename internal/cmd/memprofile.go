package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"
)

// memprofile is set by the hidden --memprofile flag.
var memprofile bool

// maybeWriteMemProfile writes the heap and allocs profiles to the current
// directory.
func maybeWriteMemProfile() {
	if !memprofile {
		return
	}
	for _, name := range []string{"heap", "allocs"} {
		if err := writeProfile(name, "yagent_"+name+".profile"); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
	}
}

func writeProfile(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	return nil
}
