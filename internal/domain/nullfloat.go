package domain

import (
	"encoding/json"
	"math"
)

// NullFloat is a derived value that may be absent. The zero value is missing.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Float returns a present value.
func Float(v float64) NullFloat {
	return NullFloat{Float64: v, Valid: true}
}

// NullFloatFromPtr converts a nullable database column.
func NullFloatFromPtr(p *float64) NullFloat {
	if p == nil {
		return NullFloat{}
	}
	return Float(*p)
}

// Ptr returns nil for a missing value.
func (n NullFloat) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// OrZero returns the value, or 0 when missing.
func (n NullFloat) OrZero() float64 {
	if !n.Valid {
		return 0
	}
	return n.Float64
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = NullFloat{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Float(f)
	return nil
}

// MissingPolicy decides what a derived field holds when it cannot be computed:
// the first %change, an empty or zero-range group, or a non-finite result.
type MissingPolicy int

const (
	// ZeroFill reports undefined values as 0.
	ZeroFill MissingPolicy = iota
	// PropagateMissing reports undefined values as null.
	PropagateMissing
)

// PolicyFor maps the "replace missing with zero" switch to a policy.
func PolicyFor(replaceMissingWithZero bool) MissingPolicy {
	if replaceMissingWithZero {
		return ZeroFill
	}
	return PropagateMissing
}

// Missing returns the placeholder for an undefined value.
func (p MissingPolicy) Missing() NullFloat {
	if p == ZeroFill {
		return Float(0)
	}
	return NullFloat{}
}

// Apply keeps finite results and replaces NaN/Inf with Missing().
// A computed 0 stays a present 0 under both policies.
func (p MissingPolicy) Apply(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return p.Missing()
	}
	return Float(v)
}

func (p MissingPolicy) String() string {
	if p == ZeroFill {
		return "zero-fill"
	}
	return "propagate-missing"
}
