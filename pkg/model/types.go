package model

type SessionID string
type TargetID string
type RuleID string

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL" yaml:"devToolsURL"`
	ProcessTimeoutMS int    `json:"processTimeoutMS" yaml:"processTimeoutMS"`
	URLPattern       string `json:"urlPattern" yaml:"urlPattern"`
	RequestStage     bool   `json:"requestStage" yaml:"requestStage"`
	ResponseStage    bool   `json:"responseStage" yaml:"responseStage"`
}

// Event 拦截处理产生的事件
type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	Rule      *RuleID   `json:"rule"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Stage     string    `json:"stage"`
	Status    int       `json:"status"`
	Timestamp int64     `json:"timestamp"`
	Error     string    `json:"error"`
}

// RuleSet 规则集合
type RuleSet struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Rule 单条拦截规则，Stage 为空时对请求和响应阶段都生效
type Rule struct {
	ID       RuleID `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Priority int    `json:"priority" yaml:"priority"`
	Mode     string `json:"mode" yaml:"mode"` // "" 或 "short_circuit"
	Stage    string `json:"stage" yaml:"stage"`
	Match    Match  `json:"match" yaml:"match"`
	Action   Action `json:"action" yaml:"action"`
}

// Match 条件组合，三组均为可选，全部满足才算命中
type Match struct {
	AllOf  []Condition `json:"allOf" yaml:"allOf"`
	AnyOf  []Condition `json:"anyOf" yaml:"anyOf"`
	NoneOf []Condition `json:"noneOf" yaml:"noneOf"`
}

// Condition 单个匹配条件
type Condition struct {
	Type    string   `json:"type" yaml:"type"`       // url|method|header|query|cookie|resource|text|json
	Mode    string   `json:"mode" yaml:"mode"`       // url: glob|prefix|regex|exact
	Pattern string   `json:"pattern" yaml:"pattern"` // url/resource 的匹配模式
	Values  []string `json:"values" yaml:"values"`   // method 候选值
	Key     string   `json:"key" yaml:"key"`         // header/query/cookie 键，json 为 gjson 路径
	Op      string   `json:"op" yaml:"op"`           // equals|contains|regex|exists
	Value   string   `json:"value" yaml:"value"`
}

// Action 命中后的行为，Fail/Respond/Rewrite 互斥，均为空表示直接放行
type Action struct {
	DelayMS int      `json:"delayMS" yaml:"delayMS"`
	Fail    *Fail    `json:"fail" yaml:"fail"`
	Respond *Respond `json:"respond" yaml:"respond"`
	Rewrite *Rewrite `json:"rewrite" yaml:"rewrite"`
}

// Fail 中止请求
type Fail struct {
	Reason string `json:"reason" yaml:"reason"`
}

// Respond 以合成响应完成请求
type Respond struct {
	Status      int            `json:"status" yaml:"status"`
	ContentType string         `json:"contentType" yaml:"contentType"`
	Headers     map[string]any `json:"headers" yaml:"headers"`
	Body        string         `json:"body" yaml:"body"`
	BodyBase64  string         `json:"bodyBase64" yaml:"bodyBase64"`
}

// Rewrite 修改后放行，map 值为 nil 表示删除该键
type Rewrite struct {
	URL    *string `json:"url" yaml:"url"`
	Method *string `json:"method" yaml:"method"`
	Status *int    `json:"status" yaml:"status"` // 仅响应阶段

	Headers map[string]*string `json:"headers" yaml:"headers"`
	Query   map[string]*string `json:"query" yaml:"query"`
	Body    *BodyPatch         `json:"body" yaml:"body"`
}

// BodyPatch 请求/响应体改写
type BodyPatch struct {
	Type string `json:"type" yaml:"type"` // base64|text_regex|json_set
	Ops  []any  `json:"ops" yaml:"ops"`
}

// TargetInfo 可附加目标的信息
type TargetInfo struct {
	ID    TargetID `json:"id"`
	Type  string   `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title"`
}

// EngineStats 规则引擎统计
type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}
