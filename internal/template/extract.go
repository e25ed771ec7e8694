package template

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup reads the value at path from a JSON document. path is either
// JSONPath ($.items[0].id, $.items[*].name) or gjson syntax (items.0.id).
func Lookup(body []byte, path string) (any, bool) {
	res := gjson.GetBytes(body, gjsonPath(path))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// LookupValue is Lookup on an already decoded value such as a saved
// response.
func LookupValue(v any, path string) (any, bool) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return Lookup(body, path)
}

// gjsonPath rewrites JSONPath into gjson form:
//
//	$.user.name    -> user.name
//	$.items[2].id  -> items.2.id
//	$.items[*].id  -> items.#.id
func gjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")

	var b strings.Builder
	for len(path) > 0 {
		open := strings.IndexByte(path, '[')
		if open < 0 {
			b.WriteString(path)
			break
		}
		closing := strings.IndexByte(path[open:], ']')
		if closing < 0 {
			b.WriteString(path)
			break
		}
		b.WriteString(path[:open])
		index := path[open+1 : open+closing]
		if index == "*" {
			index = "#"
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(index)
		path = path[open+closing+1:]
	}
	return b.String()
}
