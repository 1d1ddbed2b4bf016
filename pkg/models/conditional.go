package models

import (
	"fmt"
	"strings"
)

// Operator is the boolean operator of a ConditionalExpression.
type Operator int

const (
	OperatorAnd Operator = iota
	OperatorOr
	OperatorXor
)

var operatorNames = map[Operator]string{
	OperatorAnd: "and",
	OperatorOr:  "or",
	OperatorXor: "xor",
}

func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}

	return fmt.Sprintf("operator(%d)", int(o))
}

// ParseOperator parses "and", "or" or "xor". An empty string means and.
func ParseOperator(value string) (Operator, error) {
	if value == "" {
		return OperatorAnd, nil
	}

	for operator, name := range operatorNames {
		if strings.EqualFold(name, value) {
			return operator, nil
		}
	}

	return OperatorAnd, fmt.Errorf("unknown operator %q", value)
}

func (o Operator) MarshalText() ([]byte, error) {
	name, ok := operatorNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown operator %d", int(o))
	}

	return []byte(name), nil
}

func (o *Operator) UnmarshalText(text []byte) error {
	operator, err := ParseOperator(string(text))
	if err != nil {
		return err
	}

	*o = operator

	return nil
}

// ConditionalExpression is a boolean tree of conditions and nested expressions.
// The tree is owned top down by the branch or trigger that roots it; ParentID
// is a lookup id only.
type ConditionalExpression struct {
	ID         string                   `json:"id"                   yaml:"id"`
	Operator   Operator                 `json:"operator"             yaml:"operator"`
	IsNegated  bool                     `json:"is_negated,omitempty" yaml:"is_negated,omitempty"`
	Conditions []*Condition             `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Children   []*ConditionalExpression `json:"children,omitempty"   yaml:"children,omitempty"`
	ParentID   string                   `json:"-"                    yaml:"-"`
}

// Link sets ParentID on every descendant expression.
func (c *ConditionalExpression) Link() {
	for _, child := range c.Children {
		child.ParentID = c.ID
		child.Link()
	}
}

// Walk visits the expression and all of its descendants depth first.
func (c *ConditionalExpression) Walk(visit func(*ConditionalExpression)) {
	if c == nil {
		return
	}

	visit(c)

	for _, child := range c.Children {
		child.Walk(visit)
	}
}

// Condition is a leaf boolean test bound to an app capability.
type Condition struct {
	ID         string       `json:"id"                   yaml:"id"`
	AppName    string       `json:"app_name"             yaml:"app_name"    validate:"required"`
	ActionName string       `json:"action_name"          yaml:"action_name" validate:"required"`
	Arguments  []Argument   `json:"arguments,omitempty"  yaml:"arguments,omitempty" validate:"dive"`
	IsNegated  bool         `json:"is_negated,omitempty" yaml:"is_negated,omitempty"`
	Transforms []*Transform `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// Transform reshapes data before a condition tests it.
type Transform struct {
	ID         string     `json:"id"                  yaml:"id"`
	AppName    string     `json:"app_name"            yaml:"app_name"    validate:"required"`
	ActionName string     `json:"action_name"         yaml:"action_name" validate:"required"`
	Arguments  []Argument `json:"arguments,omitempty" yaml:"arguments,omitempty" validate:"dive"`
}
