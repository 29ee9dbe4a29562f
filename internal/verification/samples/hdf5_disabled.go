//go:build !hdf5

package samples

// registerBuildReaders leaves .hdf5 unregistered; build with -tags hdf5 to read it.
func registerBuildReaders(*Registry) {}
