package rules

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"cdptap/pkg/model"
)

// Engine 规则引擎，按阶段评估拦截事件并给出命中规则
type Engine struct {
	mu      sync.RWMutex
	rs      model.RuleSet
	total   atomic.Int64
	matched atomic.Int64
	byRule  sync.Map // model.RuleID -> *atomic.Int64
}

func New(rs model.RuleSet) *Engine { return &Engine{rs: rs} }

// Update 原子替换规则集
func (e *Engine) Update(rs model.RuleSet) {
	e.mu.Lock()
	e.rs = rs
	e.mu.Unlock()
}

// Ctx 单次评估的上下文，headers/query/cookies 键均已折叠为小写
type Ctx struct {
	URL          string
	Method       string
	ResourceType string
	Headers      map[string]string
	Query        map[string]string
	Cookies      map[string]string
	Body         string
	Stage        string
}

// Result 评估结果
type Result struct {
	RuleID *model.RuleID
	Action *model.Action
}

// Eval 评估规则集，返回优先级最高的命中规则，无命中时返回 nil
func (e *Engine) Eval(ctx Ctx) *Result {
	e.mu.RLock()
	rs := e.rs
	e.mu.RUnlock()

	e.total.Add(1)
	var chosen *model.Rule
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Stage != "" && r.Stage != ctx.Stage {
			continue
		}
		if !matchRule(ctx, r.Match) {
			continue
		}
		if chosen == nil || r.Priority > chosen.Priority {
			chosen = r
			if r.Mode == "short_circuit" {
				break
			}
		}
	}
	if chosen == nil {
		return nil
	}
	e.matched.Add(1)
	e.countRule(chosen.ID)
	rid := chosen.ID
	return &Result{RuleID: &rid, Action: &chosen.Action}
}

// NeedsBody 判断规则集中是否存在给定阶段上需要读取消息体的匹配条件，
// 供调用方决定是否值得取回消息体
func (e *Engine) NeedsBody(stage string) bool {
	e.mu.RLock()
	rs := e.rs
	e.mu.RUnlock()

	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Stage != "" && r.Stage != stage {
			continue
		}
		if hasBodyCond(r.Match.AllOf) || hasBodyCond(r.Match.AnyOf) || hasBodyCond(r.Match.NoneOf) {
			return true
		}
	}
	return false
}

func hasBodyCond(cs []model.Condition) bool {
	for i := range cs {
		if cs[i].Type == "text" || cs[i].Type == "json" {
			return true
		}
	}
	return false
}

// Stats 返回评估统计
func (e *Engine) Stats() model.EngineStats {
	st := model.EngineStats{
		Total:   e.total.Load(),
		Matched: e.matched.Load(),
		ByRule:  make(map[model.RuleID]int64),
	}
	e.byRule.Range(func(k, v any) bool {
		st.ByRule[k.(model.RuleID)] = v.(*atomic.Int64).Load()
		return true
	})
	return st
}

func (e *Engine) countRule(id model.RuleID) {
	c, _ := e.byRule.LoadOrStore(id, new(atomic.Int64))
	c.(*atomic.Int64).Add(1)
}

func matchRule(ctx Ctx, m model.Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && noneOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx Ctx, cs []model.Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx Ctx, cs []model.Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func noneOf(ctx Ctx, cs []model.Condition) bool { return !anyOf(ctx, cs) }

func cond(ctx Ctx, c model.Condition) bool {
	switch c.Type {
	case "url":
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(ctx.URL, c.Pattern)
		case "regex":
			return matchRegex(ctx.URL, c.Pattern)
		case "exact":
			return ctx.URL == c.Pattern
		default:
			return glob(ctx.URL, c.Pattern)
		}
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case "resource":
		return strings.EqualFold(ctx.ResourceType, c.Pattern)
	case "header":
		return mapCond(ctx.Headers, c)
	case "query":
		return mapCond(ctx.Query, c)
	case "cookie":
		return mapCond(ctx.Cookies, c)
	case "text":
		if ctx.Body == "" {
			return false
		}
		return opMatch(ctx.Body, c)
	case "json":
		if ctx.Body == "" {
			return false
		}
		res := gjson.Get(ctx.Body, c.Key)
		if !res.Exists() {
			return false
		}
		if c.Op == "exists" {
			return true
		}
		return opMatch(res.String(), c)
	default:
		return false
	}
}

func mapCond(m map[string]string, c model.Condition) bool {
	v, ok := m[strings.ToLower(c.Key)]
	if !ok {
		return false
	}
	return opMatch(v, c)
}

func opMatch(v string, c model.Condition) bool {
	switch c.Op {
	case "equals":
		return v == c.Value
	case "contains":
		return strings.Contains(v, c.Value)
	case "regex":
		return matchRegex(v, c.Value)
	default:
		return true
	}
}

var regexCache sync.Map // pattern -> *regexp.Regexp

func matchRegex(s, pattern string) bool {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
