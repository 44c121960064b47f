package domain

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// RuleOperator 声明式规则的比较运算符，描述通过条件
type RuleOperator string

const (
	OpGreaterThan      RuleOperator = "gt"
	OpGreaterThanEqual RuleOperator = "gte"
	OpLessThan         RuleOperator = "lt"
	OpLessThanEqual    RuleOperator = "lte"
	OpEqual            RuleOperator = "eq"
	OpNotEqual         RuleOperator = "neq"
	OpPresent          RuleOperator = "present"
	OpAbsent           RuleOperator = "absent"
	OpIn               RuleOperator = "in"
	OpNotIn            RuleOperator = "not_in"
)

// RuleSpec 规则包中的单条阈值规则
type RuleSpec struct {
	ID             string       `yaml:"id" json:"id"`
	Name           string       `yaml:"name" json:"name"`
	Category       RuleCategory `yaml:"category" json:"category"`
	Severity       Severity     `yaml:"severity" json:"severity"`
	Field          string       `yaml:"field" json:"field"`
	Operator       RuleOperator `yaml:"operator" json:"operator"`
	Value          any          `yaml:"value" json:"value"`
	Message        string       `yaml:"message" json:"message"`
	Recommendation string       `yaml:"recommendation" json:"recommendation"`
}

type rulePack struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadRulePack 解析 YAML 规则包并编译为规则
func LoadRulePack(r io.Reader) ([]ValidationRule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var pack rulePack
	if err := dec.Decode(&pack); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode rule pack: %w", err)
	}

	rules := make([]ValidationRule, 0, len(pack.Rules))
	for i, spec := range pack.Rules {
		rule, err := spec.Compile()
		if err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulePackFile 从文件加载规则包
func LoadRulePackFile(path string) ([]ValidationRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRulePack(f)
}

// Compile 编译为可执行规则
func (s RuleSpec) Compile() (ValidationRule, error) {
	if s.Field == "" {
		return ValidationRule{}, fmt.Errorf("%w: rule %s has no field", ErrInvalidRule, s.ID)
	}
	check, err := s.check()
	if err != nil {
		return ValidationRule{}, err
	}

	msg := s.Message
	if msg == "" {
		msg = fmt.Sprintf("%s check failed for field %s", s.Name, s.Field)
	}
	rule := ValidationRule{
		ID:             s.ID,
		Name:           s.Name,
		Category:       s.Category,
		Severity:       s.Severity,
		Recommendation: s.Recommendation,
		Check:          check,
		Message: func(o *Opportunity) string {
			return strings.ReplaceAll(msg, "{value}", o.String(s.Field))
		},
	}
	return rule, rule.Validate()
}

func (s RuleSpec) check() (func(*Opportunity) (bool, error), error) {
	field := s.Field
	switch s.Operator {
	case OpPresent:
		return func(o *Opportunity) (bool, error) { return o.String(field) != "", nil }, nil
	case OpAbsent:
		return func(o *Opportunity) (bool, error) { return !o.Has(field), nil }, nil

	case OpGreaterThan, OpGreaterThanEqual, OpLessThan, OpLessThanEqual:
		threshold, err := toDecimal(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s needs a numeric value: %v", ErrInvalidRule, s.ID, err)
		}
		op := s.Operator
		return func(o *Opportunity) (bool, error) {
			v, ok, err := o.Decimal(field)
			if !ok {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			return compareDecimal(op, v, threshold), nil
		}, nil

	case OpEqual, OpNotEqual:
		want := s.Value
		negate := s.Operator == OpNotEqual
		return func(o *Opportunity) (bool, error) {
			return equalValue(o, field, want) != negate, nil
		}, nil

	case OpIn, OpNotIn:
		list, ok := s.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: rule %s needs a list value", ErrInvalidRule, s.ID)
		}
		set := make(map[string]struct{}, len(list))
		for _, item := range list {
			set[strings.ToLower(fmt.Sprint(item))] = struct{}{}
		}
		negate := s.Operator == OpNotIn
		return func(o *Opportunity) (bool, error) {
			if !o.Has(field) {
				return negate, nil
			}
			_, found := set[strings.ToLower(o.String(field))]
			return found != negate, nil
		}, nil
	}
	return nil, fmt.Errorf("%w: rule %s has unknown operator %q", ErrInvalidRule, s.ID, s.Operator)
}

func compareDecimal(op RuleOperator, v, threshold decimal.Decimal) bool {
	switch op {
	case OpGreaterThan:
		return v.GreaterThan(threshold)
	case OpGreaterThanEqual:
		return v.GreaterThanOrEqual(threshold)
	case OpLessThan:
		return v.LessThan(threshold)
	default:
		return v.LessThanOrEqual(threshold)
	}
}

func equalValue(o *Opportunity, field string, want any) bool {
	if b, ok := want.(bool); ok {
		return o.Bool(field) == b
	}
	if wd, err := toDecimal(want); err == nil {
		if got, ok, err := o.Decimal(field); ok && err == nil {
			return got.Equal(wd)
		}
	}
	return strings.EqualFold(o.String(field), fmt.Sprint(want))
}
