package render

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`%%([A-Za-z0-9_]+)%%`)

// RenderFlat replaces every %%name%% token with the value of the
// case-insensitive key name. It never fails: unknown names become empty
// and text that is not a well-formed token is left alone.
func RenderFlat(text string, values map[string]interface{}) string {
	if !strings.Contains(text, "%%") {
		return text
	}

	lower := make(map[string]interface{}, len(values))
	for k, v := range values {
		lower[strings.ToLower(k)] = v
	}

	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		name := strings.ToLower(token[2 : len(token)-2])
		return flatString(lower[name])
	})
}

func flatString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "1"
		}
		return "0"
	case *string:
		if x == nil {
			return ""
		}
		return *x
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return jsonString(v)
	default:
		return fmt.Sprint(v)
	}
}

func jsonString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
