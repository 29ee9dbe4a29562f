//go:build !hdf5

package preflight

import "testing"

func TestDefaultBuildWarnsForHDF5(t *testing.T) {
	r := CheckSampleReader(".hdf5")
	if r.Passed {
		t.Fatalf("expected .hdf5 to be unreadable without the hdf5 tag, got %+v", r)
	}
	if r.Fatal {
		t.Fatal("missing reader must not stop the daemon")
	}
}
