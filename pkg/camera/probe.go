package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/teslashibe/go-binaural/pkg/pose"
)

// classifyOpenError maps an error from opening a device node to the pose
// acquisition causes.
func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return fmt.Errorf("%w: %s", pose.ErrCameraNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", pose.ErrPermissionDenied, path)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %s", pose.ErrCameraBusy, path)
	default:
		return fmt.Errorf("camera: open %s: %w", path, err)
	}
}
