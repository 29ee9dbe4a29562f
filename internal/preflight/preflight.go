package preflight

import (
	"context"

	"daqpull/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Fatal marks a failure the daemon cannot run without.
	Fatal bool
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, cfg.MinFreeStagingBytes()),
		CheckFreeSpace("Storage free space", cfg.Paths.StorageDir, cfg.MinFreeStorageBytes()),
	}
	results = append(results, CheckBinaries([]Requirement{
		{Name: "rsync", Command: cfg.Transfer.RsyncBinary, Description: "Required to list and pull files"},
		{Name: "ssh", Command: cfg.Transfer.SSHBinary, Description: "Remote shell for rsync"},
	})...)
	results = append(results, CheckSigningKey(cfg.Transfer.SSHKeyPath))
	results = append(results, CheckSampleReader(cfg.Transfer.FileExtension))
	results = append(results, CheckAlertTransport(ctx, cfg))
	return results
}

// Find returns the result named name.
func Find(results []Result, name string) (Result, bool) {
	for _, r := range results {
		if r.Name == name {
			return r, true
		}
	}
	return Result{}, false
}

// Fatal returns the failed checks that must stop the daemon.
func Fatal(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && r.Fatal {
			out = append(out, r)
		}
	}
	return out
}
