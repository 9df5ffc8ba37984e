//go:build !(linux && camera)

package media

import "errors"

// NewDeviceSource reports that this build has no capture drivers. Build
// with -tags camera on Linux to enable them.
func NewDeviceSource() (Source, error) {
	return nil, errors.New("device capture not compiled in (build with -tags camera on linux)")
}
