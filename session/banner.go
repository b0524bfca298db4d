package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/shirou/gopsutil/host"
	"gopkg.in/yaml.v3"
)

var rule = strings.Repeat("-", 80)

// Banner prints the session header: the session ID, where it is stored and
// what it runs on.
func Banner(w io.Writer, s *Session) {
	fmt.Fprintf(w, "%s\n\n", rule)
	fmt.Fprintf(w, "PhobosExec\n\n")
	fmt.Fprintf(w, "Session ID: %s\n", s.ID)
	fmt.Fprintf(w, "Session directory: %s\n", s.Path)
	fmt.Fprintf(w, "Running on: %s\n", hostDescription())
	fmt.Fprintf(w, "\n%s\n\n", rule)
}

// Rule prints a section separator.
func Rule(w io.Writer) {
	fmt.Fprintf(w, "\n%s\n\n", rule)
}

// PrintParams pretty prints a parameter set under a title.
func PrintParams(w io.Writer, title string, params any) error {
	out, err := yaml.Marshal(params)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s:\n", title)

	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}

	return nil
}

func hostDescription() string {
	info, err := host.Info()
	if err != nil {
		return "unknown host"
	}

	return fmt.Sprintf("%s %s %s %s (%s)",
		info.Hostname, info.OS, info.KernelVersion, info.KernelArch,
		strings.TrimSpace(info.Platform+" "+info.PlatformVersion))
}
