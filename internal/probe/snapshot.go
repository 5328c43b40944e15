package probe

import (
	"fmt"
	"reflect"
	"strings"
)

const maxRenderLen = 100

// SnapshotProvider renders runtime values into short strings for event
// payloads. The probe invokes it at call entry, line and return points; the
// reconstruction side never depends on how the rendering is done, so
// adapters for other runtimes can plug in their own mechanism.
type SnapshotProvider interface {
	// Snapshot renders a set of named values (arguments or locals).
	Snapshot(values map[string]interface{}) map[string]string
	// Render renders a single value (a return value).
	Render(value interface{}) string
}

// reflectProvider is the default provider, built on Go reflection. Values
// render via %#v with a hard length cap so payload capture stays O(1)-ish
// per value regardless of what the target holds.
type reflectProvider struct{}

// NewReflectProvider returns the default reflection-based provider.
func NewReflectProvider() SnapshotProvider {
	return reflectProvider{}
}

func (reflectProvider) Snapshot(values map[string]interface{}) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for name, v := range values {
		if strings.HasPrefix(name, "_") {
			continue
		}
		out[name] = render(v)
	}
	return out
}

func (reflectProvider) Render(value interface{}) string {
	return render(value)
}

func render(v interface{}) (out string) {
	if v == nil {
		return "nil"
	}
	// Unprintable values must never raise into the target.
	defer func() {
		if recover() != nil {
			out = "<unprintable>"
		}
	}()

	rv := reflect.ValueOf(v)
	var s string
	switch rv.Kind() {
	case reflect.Func, reflect.Chan:
		s = rv.Type().String()
	case reflect.Ptr:
		if rv.IsNil() {
			s = "nil"
		} else {
			s = "&" + truncate(fmt.Sprintf("%+v", rv.Elem().Interface()))
		}
	default:
		s = fmt.Sprintf("%#v", v)
	}
	return truncate(s)
}

func truncate(s string) string {
	if len(s) > maxRenderLen {
		return s[:maxRenderLen] + "..."
	}
	return s
}
