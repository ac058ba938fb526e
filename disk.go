package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/disk"
)

// DiskCheck is the free space on the volume that will hold the certificates.
type DiskCheck struct {
	Path   string
	Free   uint64
	Needed uint64
}

func (c DiskCheck) Enough() bool {
	return c.Free >= c.Needed
}

// CheckDiskSpace estimates the space a batch needs from the template size and
// compares it with the free space of the first existing ancestor of dir.
// Rendered PNGs are flattened to RGBA, so the estimate doubles the template.
func CheckDiskSpace(dir, templatePath string, count int) (DiskCheck, error) {
	info, err := os.Stat(templatePath)
	if err != nil {
		return DiskCheck{}, err
	}

	path, err := existingAncestor(dir)
	if err != nil {
		return DiskCheck{}, err
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskCheck{}, err
	}

	return DiskCheck{
		Path:   path,
		Free:   usage.Free,
		Needed: uint64(info.Size()) * 2 * uint64(count),
	}, nil
}

func existingAncestor(dir string) (string, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path, nil
		}
		path = parent
	}
}
