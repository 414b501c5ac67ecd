package strategy

import (
	"fmt"
	"strings"
	"sync"

	"dealsim/internal/backtest"
	"dealsim/internal/logger"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Constructor 用合并、校验后的参数创建策略实例。
type Constructor func(p Params) (backtest.Strategy, error)

// Definition 描述一个可注册的策略。
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Schema      string      `json:"-"`
	Defaults    Params      `json:"defaults"`
	New         Constructor `json:"-"`

	schema *jsonschema.Schema
}

// Registry 管理策略定义与参数覆盖，实现 backtest.StrategyFactory。
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	overrides map[string]Params
}

var _ backtest.StrategyFactory = (*Registry)(nil)

// NewRegistry 返回注册了内置策略的 Registry。
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition), overrides: make(map[string]Params)}
	for _, def := range builtins() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

func builtins() []Definition {
	return []Definition{buyHoldDefinition(), smaCrossDefinition(), atrTrailingDefinition(), gridRevertDefinition()}
}

func (r *Registry) Register(def Definition) error {
	def.Name = strings.ToLower(strings.TrimSpace(def.Name))
	if def.Name == "" || def.New == nil {
		return fmt.Errorf("strategy definition 需要 name 与 constructor")
	}
	if def.Schema != "" {
		compiled, err := compileSchema(def.Name, def.Schema)
		if err != nil {
			return fmt.Errorf("strategy %s schema: %w", def.Name, err)
		}
		def.schema = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.Name]; dup {
		return fmt.Errorf("strategy %s 重复注册", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// SetOverrides 替换参数文件中的覆盖值，未知策略名只告警。
func (r *Registry) SetOverrides(overrides map[string]Params) {
	next := make(map[string]Params, len(overrides))
	r.mu.Lock()
	for name, p := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := r.defs[name]; !ok {
			logger.Warnf("strategy params: 未知策略 %s，已忽略", name)
			continue
		}
		next[name] = p
	}
	r.overrides = next
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.defs)
}

// Definitions 按名称排序返回全部策略定义。
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, name := range sortedKeys(r.defs) {
		def := r.defs[name]
		def.Defaults = merge(def.Defaults, r.overrides[name])
		out = append(out, def)
	}
	return out
}

// Resolve 合并默认值、文件覆盖与请求参数，并按 schema 校验。
func (r *Registry) Resolve(name string, params map[string]any) (Definition, Params, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	def, ok := r.defs[name]
	override := r.overrides[name]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, nil, fmt.Errorf("%w: %s", backtest.ErrUnknownStrat, name)
	}
	merged := merge(def.Defaults, override, Params(params))
	sanitized, _ := sanitizeParams(merged).(map[string]any)
	if def.schema != nil {
		if err := def.schema.Validate(sanitized); err != nil {
			return Definition{}, nil, fmt.Errorf("strategy %s 参数校验失败: %w", name, err)
		}
	}
	return def, Params(sanitized), nil
}

func (r *Registry) NewStrategy(spec backtest.StrategySpec) (backtest.Strategy, error) {
	def, params, err := r.Resolve(spec.Name, spec.Params)
	if err != nil {
		return nil, err
	}
	strat, err := def.New(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", def.Name, err)
	}
	logger.Debugf("[strategy] run %s 使用 %s %v", spec.RunID, def.Name, map[string]any(params))
	return strat, nil
}
