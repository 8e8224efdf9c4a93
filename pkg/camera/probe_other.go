//go:build !linux

package camera

// probeDevice is a no-op; OpenCV reports failures itself off Linux.
func probeDevice(index int) error {
	return nil
}
