//go:build !linux

package transport

func OpenSerial(path string, cfg SerialConfig) (FrameTransport, error) {
	return nil, ErrUnsupportedPlatform
}
