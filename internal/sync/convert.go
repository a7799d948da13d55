package sync

import (
	"bytes"
	"fmt"
)

func newBytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// stringifyKeys converts the map[interface{}]interface{} nodes that
// gopkg.in/yaml.v2 produces into map[string]interface{}, recursively, so
// the result satisfies unstructured.Unstructured's requirements. Grounded
// on the same conversion rancher-fleet's bundlereader performs after
// decoding raw YAML (internal/cmd/cli/apply manifest loading).
func stringifyKeys(v interface{}) map[string]interface{} {
	out, _ := stringify(v).(map[string]interface{})
	return out
}

func stringify(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			m[toString(k)] = stringify(vv)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			m[k] = stringify(vv)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, vv := range val {
			s[i] = stringify(vv)
		}
		return s
	default:
		return v
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
