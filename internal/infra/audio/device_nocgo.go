//go:build !((linux && cgo) || windows || darwin)

package audio

// DeviceAvailable indicates whether speaker output is supported in this build.
// Speaker output requires cgo on linux.
const DeviceAvailable = false

// newDevice falls back to the silent player.
func newDevice(cfg Config) (Player, error) {
	return NewNull(cfg), nil
}
