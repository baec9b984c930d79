//go:build windows

package fileid

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/neuralfs/neuralfs/internal/models"
)

func identity(path string) (models.FileIdentity, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return models.FileIdentity{}, fmt.Errorf("encode path %s: %w", path, err)
	}
	// FILE_FLAG_BACKUP_SEMANTICS is required to open directories.
	h, err := windows.CreateFile(p, windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return models.FileIdentity{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer windows.CloseHandle(h)
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return models.FileIdentity{}, fmt.Errorf("file information %s: %w", path, err)
	}
	return models.FileIdentity{
		Volume: uint64(info.VolumeSerialNumber),
		Index:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}, nil
}
