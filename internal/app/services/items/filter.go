package items

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// AttributeFilter matches items whose attribute at Path (gjson syntax, e.g.
// "size.width" or "labels.0") renders as Value.
type AttributeFilter struct {
	Path  string
	Value string
}

// ParseAttributeFilters parses "path=value" expressions.
func ParseAttributeFilters(raw []string) ([]AttributeFilter, error) {
	filters := make([]AttributeFilter, 0, len(raw))
	for _, expr := range raw {
		path, value, ok := strings.Cut(expr, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, fmt.Errorf("attribute filter %q must look like path=value", expr)
		}
		filters = append(filters, AttributeFilter{Path: path, Value: value})
	}
	return filters, nil
}

// Match reports whether attrs satisfies f.
func (f AttributeFilter) Match(attrs json.RawMessage) bool {
	if len(attrs) == 0 {
		return false
	}
	res := gjson.GetBytes(attrs, f.Path)
	return res.Exists() && res.String() == f.Value
}

func matchAll(filters []AttributeFilter, attrs json.RawMessage) bool {
	for _, f := range filters {
		if !f.Match(attrs) {
			return false
		}
	}
	return true
}
