package wire

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/mafredri/cdp/protocol/fetch"
)

// HeaderList 折叠后的有序头部列表，键统一为小写，单键可携带多个值
type HeaderList struct {
	order []string
	vals  map[string][]string
}

// NewHeaderList 创建空的头部列表
func NewHeaderList() *HeaderList {
	return &HeaderList{vals: make(map[string][]string)}
}

// FoldHeaders 将任意值的头部映射折叠为有序列表：
// 键折叠为小写（同名后写覆盖先写），标量值字符串化，列表值保留为有序多值条目
func FoldHeaders(h map[string]any) *HeaderList {
	l := NewHeaderList()
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := h[k].(type) {
		case []string:
			l.Set(k, v...)
		case []any:
			vals := make([]string, 0, len(v))
			for _, e := range v {
				vals = append(vals, stringify(e))
			}
			l.Set(k, vals...)
		default:
			l.Set(k, stringify(v))
		}
	}
	return l
}

// Set 覆盖指定头部的值（键自动折叠为小写）
func (l *HeaderList) Set(name string, values ...string) {
	key := foldName(name)
	if _, ok := l.vals[key]; !ok {
		l.order = append(l.order, key)
	}
	l.vals[key] = values
}

// Has 判断头部是否存在（大小写不敏感）
func (l *HeaderList) Has(name string) bool {
	_, ok := l.vals[foldName(name)]
	return ok
}

// Get 返回头部的首个值，不存在时返回空串
func (l *HeaderList) Get(name string) string {
	vs := l.vals[foldName(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Entries 展平为 CDP 线上格式的有序键值对列表，多值头部展开为连续的同名条目
func (l *HeaderList) Entries() []fetch.HeaderEntry {
	out := make([]fetch.HeaderEntry, 0, len(l.order))
	for _, k := range l.order {
		for _, v := range l.vals[k] {
			out = append(out, fetch.HeaderEntry{Name: k, Value: v})
		}
	}
	return out
}

// FlattenStringHeaders 将字符串头部映射折叠并展平为有序键值对列表
func FlattenStringHeaders(h map[string]string) []fetch.HeaderEntry {
	m := make(map[string]any, len(h))
	for k, v := range h {
		m[k] = v
	}
	return FoldHeaders(m).Entries()
}

func foldName(name string) string {
	// 头部名仅含 ASCII，避免 strings.ToLower 的 Unicode 开销
	b := []byte(name)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if float64(int64(x)) == x {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
