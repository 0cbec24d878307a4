package uci

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OptionType is the declared type of an engine option. Types outside the
// five UCI kinds are kept verbatim.
type OptionType string

const (
	TypeCheck  OptionType = "check"
	TypeSpin   OptionType = "spin"
	TypeCombo  OptionType = "combo"
	TypeButton OptionType = "button"
	TypeString OptionType = "string"
)

// ErrNotOverridable is returned for buttons and options of unknown type.
var ErrNotOverridable = errors.New("option cannot be overridden")

// Option is an "option name N type T ..." declaration.
type Option struct {
	Name       string
	Type       OptionType
	Default    string
	HasDefault bool
	Min        *int64
	Max        *int64
	Vars       []string
}

// Overridable reports whether a client may set the option to a value.
func (o Option) Overridable() bool {
	switch o.Type {
	case TypeCheck, TypeSpin, TypeCombo, TypeString:
		return true
	}
	return false
}

// Normalize checks value against the declaration and returns the value to
// send. Spin values outside min/max are clamped rather than rejected.
func (o Option) Normalize(value string) (string, error) {
	if !o.Overridable() {
		return "", fmt.Errorf("%s: %w", o.Name, ErrNotOverridable)
	}
	if strings.ContainsAny(value, "\r\n") {
		return "", fmt.Errorf("%s: value contains a line break", o.Name)
	}

	switch o.Type {
	case TypeSpin:
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return "", fmt.Errorf("%s: %q is not an integer", o.Name, value)
		}
		if o.Min != nil && v < *o.Min {
			v = *o.Min
		}
		if o.Max != nil && v > *o.Max {
			v = *o.Max
		}
		return strconv.FormatInt(v, 10), nil
	case TypeCheck:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		}
		return "", fmt.Errorf("%s: %q is not a boolean", o.Name, value)
	case TypeCombo:
		for _, v := range o.Vars {
			if strings.EqualFold(v, value) {
				return v, nil
			}
		}
		return "", fmt.Errorf("%s: %q is not one of %v", o.Name, value, o.Vars)
	}

	return value, nil
}

// Capabilities is what an engine declares during the uci handshake.
type Capabilities struct {
	Name    string
	Author  string
	Options []Option
}

// Apply folds an id or option line into c. It reports whether msg was
// part of the declaration.
func (c *Capabilities) Apply(msg Message) bool {
	switch m := msg.(type) {
	case ID:
		if m.Field == "name" {
			c.Name = m.Value
		} else {
			c.Author = m.Value
		}
		return true
	case Option:
		c.Options = append(c.Options, m)
		return true
	}
	return false
}

// Lookup finds an option by name. UCI option names are case-insensitive.
func (c *Capabilities) Lookup(name string) (Option, bool) {
	if c == nil {
		return Option{}, false
	}
	for _, o := range c.Options {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return Option{}, false
}

// Variants returns the values of the UCI_Variant combo, if declared.
func (c *Capabilities) Variants() []string {
	if o, ok := c.Lookup("UCI_Variant"); ok && o.Type == TypeCombo {
		return append([]string(nil), o.Vars...)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Capabilities) Clone() *Capabilities {
	if c == nil {
		return nil
	}
	out := &Capabilities{Name: c.Name, Author: c.Author, Options: make([]Option, len(c.Options))}
	for i, o := range c.Options {
		o.Vars = append([]string(nil), o.Vars...)
		if o.Min != nil {
			v := *o.Min
			o.Min = &v
		}
		if o.Max != nil {
			v := *o.Max
			o.Max = &v
		}
		out.Options[i] = o
	}
	return out
}
