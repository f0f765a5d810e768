package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"order_sent": {
		Event:    "order_sent",
		Required: []string{"client_id", "symbol", "side", "qty", "price"},
	},
	"cancel_sent": {
		Event:    "cancel_sent",
		Required: []string{"client_id"},
	},
	"order_update": {
		Event:    "order_update",
		Required: []string{"client_id", "state"},
	},
	"fill": {
		Event:    "fill",
		Required: []string{"client_id", "venue_id", "qty", "price", "position", "realized_pnl"},
	},
	"risk_reject": {
		Event:    "risk_reject",
		Required: []string{"client_id", "reason", "qty", "price"},
	},
	"venue_reject": {
		Event:    "venue_reject",
		Required: []string{"client_id", "reason"},
	},
	"venue_accept": {
		Event:    "venue_accept",
		Required: []string{"client_id", "venue_id", "qty", "price"},
	},
	"venue_fill": {
		Event:    "venue_fill",
		Required: []string{"client_id", "venue_id", "qty", "price"},
	},
	"config_reload": {
		Event:    "config_reload",
		Required: []string{"path", "level"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
