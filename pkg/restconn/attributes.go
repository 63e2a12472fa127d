package restconn

import "github.com/miracle-42/openrestdb-go/pkg/sqlrest"

// attributeSet is an ordered name→value mapping copied into each
// outgoing payload. Values are never interpreted locally.
type attributeSet struct {
	pairs []sqlrest.NameValue
}

// set replaces the named value in place or appends it, preserving
// insertion order.
func (a *attributeSet) set(name string, value any) {
	for i := range a.pairs {
		if a.pairs[i].Name == name {
			a.pairs[i].Value = value
			return
		}
	}
	a.pairs = append(a.pairs, sqlrest.NameValue{Name: name, Value: value})
}

// delete removes the named value.
func (a *attributeSet) delete(name string) {
	for i := range a.pairs {
		if a.pairs[i].Name == name {
			a.pairs = append(a.pairs[:i], a.pairs[i+1:]...)
			return
		}
	}
}

// snapshot returns a copy safe to hand to the transport layer.
func (a *attributeSet) snapshot() []sqlrest.NameValue {
	if len(a.pairs) == 0 {
		return nil
	}
	out := make([]sqlrest.NameValue, len(a.pairs))
	copy(out, a.pairs)
	return out
}
