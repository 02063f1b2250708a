package executors

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Backend describes an execution backend available on this host.
type Backend struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"` // available, missing
	Path     string `json:"path,omitempty"`
	Version  string `json:"version,omitempty"`
	Builtin  bool   `json:"builtin"`
	Detected bool   `json:"detected"`
}

// knownBinaries lists the external cycler control tools we can drive.
var knownBinaries = []struct {
	id   string
	name string
	bin  string
}{
	{id: "cellcycler", name: "CellCycler CLI", bin: "cellcycler"},
	{id: "bioflex", name: "BioFlex control tool", bin: "bioflex"},
	{id: "nwctl", name: "Neware channel controller", bin: "nwctl"},
}

// Detect scans the host for execution backends. The builtin simulator is
// always reported first; external tools are probed on PATH.
func Detect() []Backend {
	backends := []Backend{{
		ID:      "simcell",
		Name:    "Builtin cell simulator",
		Status:  "available",
		Builtin: true,
	}}

	for _, k := range knownBinaries {
		b := Backend{ID: k.id, Name: k.name, Status: "missing"}
		if path, err := exec.LookPath(k.bin); err == nil {
			b.Status = "available"
			b.Path = path
			b.Version = versionOf(path)
			b.Detected = true
		}
		backends = append(backends, b)
	}
	return backends
}

// versionOf asks a tool for its version, best effort.
func versionOf(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	return strings.TrimSpace(line)
}
