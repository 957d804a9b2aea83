package mergemod

import (
	"github.com/kolide/binder/pkg/cabinet"
)

// BundledExtractor explodes cabinets written by this toolchain's own
// archiver, without any external tool.
type BundledExtractor struct{}

func (b *BundledExtractor) Handles(cabPath string) (bool, error) {
	return cabinet.IsCabinet(cabPath)
}

func (b *BundledExtractor) Explode(cabPath, dir string) error {
	_, err := cabinet.Extract(cabPath, dir)
	return err
}
