package command

import "fmt"

// Supported command ids.
const (
	GetLastError         ID = 0x0002
	GetAppVersion        ID = 0x010A
	GetAppName           ID = 0x010B
	RebootIntoUpdateMode ID = 0xFFFF
)

var builtin = []Descriptor{
	{ID: GetLastError, Name: "get_last_error", Decode: DecodeText},
	{ID: GetAppVersion, Name: "get_app_version", Decode: DecodeText},
	{ID: GetAppName, Name: "get_app_name", Decode: DecodeText},
	{ID: RebootIntoUpdateMode, Name: "reboot_into_update_mode", NoResponse: true},
}

// DefaultRegistry returns a registry holding the supported command set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range builtin {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// DecodeText decodes an ASCII result as a string.
func DecodeText(result []byte) (any, error) {
	for i, c := range result {
		if c > 0x7F {
			return nil, fmt.Errorf("%w: byte 0x%02x at offset %d", ErrNonASCII, c, i)
		}
	}
	return string(result), nil
}

// Text decodes resp through r and asserts a string result.
func Text(r *Registry, resp Response) (string, error) {
	v, err := r.Value(resp)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("command: %s result is %T, not text", r.Name(resp.CommandID), v)
	}
	return s, nil
}
