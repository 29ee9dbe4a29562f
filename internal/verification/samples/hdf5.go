//go:build hdf5

package samples

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

func registerBuildReaders(r *Registry) {
	r.Register(".hdf5", HDF5Reader{})
	r.Register(".h5", HDF5Reader{})
}

// HDF5Reader reads every dataset in the file's root group as one channel.
type HDF5Reader struct{}

func (HDF5Reader) Channels(path string) ([]Channel, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	n, err := f.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("count objects: %w", err)
	}
	var channels []Channel
	for i := uint(0); i < n; i++ {
		kind, err := f.ObjectTypeByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("object %d type: %w", i, err)
		}
		if kind != hdf5.H5G_DATASET {
			continue
		}
		name, err := f.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("object %d name: %w", i, err)
		}
		values, err := readDataset(f, name)
		if err != nil {
			return nil, err
		}
		channels = append(channels, Channel{Name: name, Values: values})
	}
	return channels, nil
}

func readDataset(f *hdf5.File, name string) ([]float64, error) {
	ds, err := f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", name, err)
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()
	values := make([]float64, space.SimpleExtentNPoints())
	if len(values) == 0 {
		return values, nil
	}
	if err := ds.Read(&values); err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", name, err)
	}
	return values, nil
}
