package strategy

import (
	"errors"
	"fmt"
	"sort"

	"quant-sim/internal/indicator"
)

var (
	// ErrUnknownKind 表示不支持的策略类型。
	ErrUnknownKind = errors.New("strategy: 不支持的策略类型")
	// ErrInvalidParams 表示策略参数校验失败。
	ErrInvalidParams = errors.New("strategy: 策略参数无效")
)

// Strategy 为策略评估能力接口，新策略类型以新变体注册进注册表。
// Evaluate 对预期的边界情况（历史数据不足）不返回错误，而是给出
// 带说明的 HOLD 信号。
type Strategy interface {
	Kind() Kind
	Evaluate(instrumentCode string, prices indicator.Series) Signal
}

// Builder 根据参数表构造一个策略实例，参数在此处完成校验。
type Builder func(params map[string]float64) (Strategy, error)

// Registry 按策略类型分发构造器。
type Registry struct {
	builders map[Kind]Builder
}

// NewRegistry 创建注册表并注册内置策略。
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[Kind]Builder)}
	r.Register(KindMACross, func(params map[string]float64) (Strategy, error) {
		return NewMACross(params)
	})
	return r
}

// Register 注册策略构造器，同类型后注册者覆盖先注册者。
func (r *Registry) Register(kind Kind, builder Builder) {
	r.builders[kind] = builder
}

// New 根据配置构造策略实例。未知类型或参数无效时返回错误，
// 校验只发生在此处，评估阶段不再检查参数。
func (r *Registry) New(cfg Config) (Strategy, error) {
	builder, ok := r.builders[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
	return builder(cfg.Params)
}

// Validate 仅校验配置而不构造实例。
func (r *Registry) Validate(cfg Config) error {
	_, err := r.New(cfg)
	return err
}

// Kinds 返回已注册的策略类型，按字典序排列。
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
