//go:build linux

package camera

import (
	"fmt"
	"os"
)

// probeDevice opens the device node so a missing camera or a permission
// problem is reported precisely before OpenCV hides the cause.
func probeDevice(index int) error {
	path := fmt.Sprintf("/dev/video%d", index)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return classifyOpenError(path, err)
	}
	return f.Close()
}
