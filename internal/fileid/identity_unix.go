//go:build !windows

package fileid

import (
	"fmt"
	"os"
	"syscall"

	"github.com/neuralfs/neuralfs/internal/models"
)

func identity(path string) (models.FileIdentity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.FileIdentity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return models.FileIdentity{}, fmt.Errorf("no stat info for %s", path)
	}
	return models.FileIdentity{
		Volume: uint64(st.Dev),
		Index:  uint64(st.Ino),
	}, nil
}
