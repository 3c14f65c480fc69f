package graphapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
)

// Property describes one input of a node definition.
// Settable property types:
// "INT"			an int64
// "FLOAT"			a float64
// "STRING"			a single line, or multiline string
// "COMBO"			one of a given list of strings
// "BOOLEAN"		a labeled bool value
// everything else is a link type (MODEL, CLIP, LATENT ...) and only accepts links
type Property interface {
	TypeString() string
	Optional() bool
	Settable() bool
	Name() string
	Index() int
	// Check reports whether v is an acceptable literal for this input. Links are
	// always accepted.
	Check(v interface{}) error
}

type BaseProperty struct {
	name     string
	optional bool
	index    int
}

func (b *BaseProperty) Name() string   { return b.name }
func (b *BaseProperty) Optional() bool { return b.optional }
func (b *BaseProperty) Index() int     { return b.index }

type BoolProperty struct {
	BaseProperty
	Default  bool
	LabelOn  string
	LabelOff string
}

func newBoolProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &BoolProperty{BaseProperty: BaseProperty{name: input_name, optional: optional, index: index}}
	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := d["label_on"].(string); ok {
			c.LabelOn = val
		}
		if val, ok := d["label_off"].(string); ok {
			c.LabelOff = val
		}
		if val, ok := d["default"].(bool); ok {
			c.Default = val
		}
	}
	return c
}

func (p *BoolProperty) TypeString() string { return "BOOLEAN" }
func (p *BoolProperty) Settable() bool     { return true }
func (p *BoolProperty) Check(v interface{}) error {
	if _, ok := asRef(v); ok {
		return nil
	}
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("%s expects a boolean, got %T", p.name, v)
	}
	return nil
}

type IntProperty struct {
	BaseProperty
	Default  int64
	Min      int64 // optional
	Max      int64 // optional
	Step     int64 // optional
	hasStep  bool
	hasRange bool
}

func newIntProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &IntProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, index: index},
		Min:          math.MinInt64,
		Max:          math.MaxInt64,
	}
	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := number(d["default"]); ok {
			c.Default = int64(val)
		}
		if val, ok := number(d["min"]); ok {
			c.Min = int64(val)
			c.hasRange = true
		}
		if val, ok := number(d["max"]); ok && val < math.MaxInt64 {
			c.Max = int64(val)
			c.hasRange = true
		}
		if val, ok := number(d["step"]); ok {
			c.Step = int64(val)
			c.hasStep = true
		}
	}
	return c
}

func (p *IntProperty) TypeString() string { return "INT" }
func (p *IntProperty) Settable() bool     { return true }
func (p *IntProperty) HasStep() bool      { return p.hasStep }
func (p *IntProperty) HasRange() bool     { return p.hasRange }
func (p *IntProperty) Check(v interface{}) error {
	if _, ok := asRef(v); ok {
		return nil
	}
	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return fmt.Errorf("%s expects an integer, got %v", p.name, v)
	}
	if p.hasRange && (f < float64(p.Min) || f > float64(p.Max)) {
		return fmt.Errorf("%s value %v outside [%d, %d]", p.name, v, p.Min, p.Max)
	}
	return nil
}

type FloatProperty struct {
	BaseProperty
	Default  float64
	Min      float64
	Max      float64
	Step     float64
	hasStep  bool
	hasRange bool
}

func newFloatProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &FloatProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, index: index},
		Min:          -math.MaxFloat64,
		Max:          math.MaxFloat64,
	}
	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := number(d["default"]); ok {
			c.Default = val
		}
		if val, ok := number(d["min"]); ok {
			c.Min = val
			c.hasRange = true
		}
		if val, ok := number(d["max"]); ok {
			c.Max = val
			c.hasRange = true
		}
		if val, ok := number(d["step"]); ok {
			c.Step = val
			c.hasStep = true
		}
	}
	return c
}

func (p *FloatProperty) TypeString() string { return "FLOAT" }
func (p *FloatProperty) Settable() bool     { return true }
func (p *FloatProperty) HasStep() bool      { return p.hasStep }
func (p *FloatProperty) HasRange() bool     { return p.hasRange }
func (p *FloatProperty) Check(v interface{}) error {
	if _, ok := asRef(v); ok {
		return nil
	}
	f, ok := number(v)
	if !ok {
		return fmt.Errorf("%s expects a number, got %v", p.name, v)
	}
	if p.hasRange && (f < p.Min || f > p.Max) {
		return fmt.Errorf("%s value %v outside [%g, %g]", p.name, v, p.Min, p.Max)
	}
	return nil
}

type StringProperty struct {
	BaseProperty
	Default   string
	Multiline bool
}

func newStringProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &StringProperty{BaseProperty: BaseProperty{name: input_name, optional: optional, index: index}}
	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := d["default"].(string); ok {
			c.Default = val
		}
		if val, ok := d["multiline"].(bool); ok {
			c.Multiline = val
		}
	}
	return c
}

func (p *StringProperty) TypeString() string { return "STRING" }
func (p *StringProperty) Settable() bool     { return true }
func (p *StringProperty) Check(v interface{}) error {
	if _, ok := asRef(v); ok {
		return nil
	}
	if _, ok := v.(string); !ok {
		return fmt.Errorf("%s expects a string, got %T", p.name, v)
	}
	return nil
}

// ComboProperty is one of a fixed list of strings. Model file inputs
// (ckpt_name, unet_name, vae_name ...) are combos listing the installed files.
type ComboProperty struct {
	BaseProperty
	Values []string
}

func newComboProperty(input_name string, optional bool, input []interface{}, index int) Property {
	c := &ComboProperty{BaseProperty: BaseProperty{name: input_name, optional: optional, index: index}}
	c.Values = make([]string, 0, len(input))
	for _, v := range input {
		if s, ok := v.(string); ok {
			c.Values = append(c.Values, s)
		}
	}
	return c
}

func (p *ComboProperty) TypeString() string { return "COMBO" }
func (p *ComboProperty) Settable() bool     { return true }

func (p *ComboProperty) Has(value string) bool {
	for _, v := range p.Values {
		if v == value {
			return true
		}
	}
	return false
}

func (p *ComboProperty) Check(v interface{}) error {
	if _, ok := asRef(v); ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%s expects one of %d values, got %T", p.name, len(p.Values), v)
	}
	if !p.Has(s) {
		return &ComboValueError{Input: p.name, Value: s, Allowed: append([]string(nil), p.Values...)}
	}
	return nil
}

// ComboValueError is returned when a combo input holds a value the server does
// not offer, typically a model file that is not installed.
type ComboValueError struct {
	Input   string
	Value   string
	Allowed []string
}

func (e *ComboValueError) Error() string {
	return fmt.Sprintf("%s: %q is not one of the %d available values", e.Input, e.Value, len(e.Allowed))
}

type UnknownProperty struct {
	BaseProperty
	TypeName string
}

func newUnknownProperty(input_name string, optional bool, typename string, index int) Property {
	return &UnknownProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, index: index},
		TypeName:     typename,
	}
}

func (p *UnknownProperty) TypeString() string { return p.TypeName }
func (p *UnknownProperty) Settable() bool     { return false }
func (p *UnknownProperty) Check(v interface{}) error {
	if _, ok := asRef(v); ok {
		return nil
	}
	return fmt.Errorf("%s expects a link to a %s output", p.name, p.TypeName)
}

// NewPropertyFromInput creates a Property from one object_info input entry,
// e.g. ["INT", {"default": 20, "min": 1}] or [["a.safetensors", "b.safetensors"]].
func NewPropertyFromInput(input_name string, optional bool, input interface{}, index int) Property {
	slice, ok := input.([]interface{})
	if !ok || len(slice) == 0 {
		return nil
	}

	var options interface{}
	if len(slice) > 1 {
		options = slice[1]
	}

	// the first item is either an array of strings (a combo), or the property type
	if values, ok := slice[0].([]interface{}); ok {
		return newComboProperty(input_name, optional, values, index)
	}
	stype, ok := slice[0].(string)
	if !ok {
		slog.Debug("unrecognised input definition", "input", input_name)
		return nil
	}
	switch stype {
	case "STRING":
		return newStringProperty(input_name, optional, options, index)
	case "INT":
		return newIntProperty(input_name, optional, options, index)
	case "FLOAT":
		return newFloatProperty(input_name, optional, options, index)
	case "BOOLEAN":
		return newBoolProperty(input_name, optional, options, index)
	case "COMBO":
		// newer servers: ["COMBO", {"options": [...]}]
		var values []interface{}
		if d, ok := options.(map[string]interface{}); ok {
			values, _ = d["options"].([]interface{})
		}
		return newComboProperty(input_name, optional, values, index)
	default:
		return newUnknownProperty(input_name, optional, stype, index)
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
