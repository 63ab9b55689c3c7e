package vm

import (
	"jdeobf/internal/insn"
	"jdeobf/internal/value"
)

// Call describes a method invocation or field access handed to a provider.
type Call struct {
	// Op is the invoke or field opcode that produced the call.
	Op    insn.Opcode
	Owner string
	Name  string
	Desc  string
	// Target is the receiver, or nil for static members and constructors
	// of fresh allocations.
	Target value.Value
	Args   []value.Value
}

// Provider supplies the environment-dependent behavior the interpreter
// cannot compute itself. Each operation is a predicate and an action; the
// action is only called after the predicate accepted the same arguments.
type Provider interface {
	CanInvokeMethod(c *Call, ctx *Context) bool
	InvokeMethod(c *Call, ctx *Context) (value.Value, error)

	CanGetField(c *Call, ctx *Context) bool
	GetField(c *Call, ctx *Context) (value.Value, error)

	CanPutField(c *Call, v value.Value, ctx *Context) bool
	PutField(c *Call, v value.Value, ctx *Context) error

	CanCheckInstanceOf(v value.Value, typ string, ctx *Context) bool
	CheckInstanceOf(v value.Value, typ string, ctx *Context) (bool, error)

	CanCheckcast(v value.Value, typ string, ctx *Context) bool
	Checkcast(v value.Value, typ string, ctx *Context) (bool, error)

	CanCheckEquality(a, b value.Value, ctx *Context) bool
	CheckEquality(a, b value.Value, ctx *Context) (bool, error)
}

// noMethods is embedded by roles that do not invoke methods.
type noMethods struct{}

func (noMethods) CanInvokeMethod(*Call, *Context) bool { return false }
func (noMethods) InvokeMethod(*Call, *Context) (value.Value, error) {
	return nil, ErrUnsupported
}

type noFields struct{}

func (noFields) CanGetField(*Call, *Context) bool { return false }
func (noFields) GetField(*Call, *Context) (value.Value, error) {
	return nil, ErrUnsupported
}
func (noFields) CanPutField(*Call, value.Value, *Context) bool { return false }
func (noFields) PutField(*Call, value.Value, *Context) error {
	return ErrUnsupported
}

type noComparisons struct{}

func (noComparisons) CanCheckInstanceOf(value.Value, string, *Context) bool { return false }
func (noComparisons) CheckInstanceOf(value.Value, string, *Context) (bool, error) {
	return false, ErrUnsupported
}
func (noComparisons) CanCheckcast(value.Value, string, *Context) bool { return false }
func (noComparisons) Checkcast(value.Value, string, *Context) (bool, error) {
	return false, ErrUnsupported
}
func (noComparisons) CanCheckEquality(value.Value, value.Value, *Context) bool { return false }
func (noComparisons) CheckEquality(value.Value, value.Value, *Context) (bool, error) {
	return false, ErrUnsupported
}

// MethodProvider is embedded by providers that only invoke methods. The
// embedding type must implement CanInvokeMethod and InvokeMethod.
type MethodProvider struct {
	noFields
	noComparisons
}

// FieldProvider is embedded by providers that only access fields. The
// embedding type must implement the four field operations.
type FieldProvider struct {
	noMethods
	noComparisons
}

// ComparisonProvider is embedded by providers that only answer type and
// equality checks. The embedding type must implement the six check
// operations.
type ComparisonProvider struct {
	noMethods
	noFields
}

// DelegatingProvider dispatches each operation to the first registered
// provider whose predicate accepts it. Registration order is precedence.
type DelegatingProvider struct {
	providers []Provider
}

// NewDelegatingProvider returns a chain holding providers in order.
func NewDelegatingProvider(providers ...Provider) *DelegatingProvider {
	return &DelegatingProvider{providers: providers}
}

// Register appends providers after the ones already registered.
func (d *DelegatingProvider) Register(providers ...Provider) {
	d.providers = append(d.providers, providers...)
}

// Len returns the number of registered providers.
func (d *DelegatingProvider) Len() int {
	return len(d.providers)
}

func (d *DelegatingProvider) CanInvokeMethod(c *Call, ctx *Context) bool {
	for _, p := range d.providers {
		if p.CanInvokeMethod(c, ctx) {
			return true
		}
	}
	return false
}

func (d *DelegatingProvider) InvokeMethod(c *Call, ctx *Context) (value.Value, error) {
	for _, p := range d.providers {
		if p.CanInvokeMethod(c, ctx) {
			return p.InvokeMethod(c, ctx)
		}
	}
	return nil, &NoProviderError{Op: "invoke", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
}

func (d *DelegatingProvider) CanGetField(c *Call, ctx *Context) bool {
	for _, p := range d.providers {
		if p.CanGetField(c, ctx) {
			return true
		}
	}
	return false
}

func (d *DelegatingProvider) GetField(c *Call, ctx *Context) (value.Value, error) {
	for _, p := range d.providers {
		if p.CanGetField(c, ctx) {
			return p.GetField(c, ctx)
		}
	}
	return nil, &NoProviderError{Op: "getfield", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
}

func (d *DelegatingProvider) CanPutField(c *Call, v value.Value, ctx *Context) bool {
	for _, p := range d.providers {
		if p.CanPutField(c, v, ctx) {
			return true
		}
	}
	return false
}

func (d *DelegatingProvider) PutField(c *Call, v value.Value, ctx *Context) error {
	for _, p := range d.providers {
		if p.CanPutField(c, v, ctx) {
			return p.PutField(c, v, ctx)
		}
	}
	return &NoProviderError{Op: "putfield", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
}

func (d *DelegatingProvider) CanCheckInstanceOf(v value.Value, typ string, ctx *Context) bool {
	for _, p := range d.providers {
		if p.CanCheckInstanceOf(v, typ, ctx) {
			return true
		}
	}
	return false
}

func (d *DelegatingProvider) CheckInstanceOf(v value.Value, typ string, ctx *Context) (bool, error) {
	for _, p := range d.providers {
		if p.CanCheckInstanceOf(v, typ, ctx) {
			return p.CheckInstanceOf(v, typ, ctx)
		}
	}
	return false, &NoProviderError{Op: "instanceof", Owner: typ, Desc: typeNameOf(v)}
}

func (d *DelegatingProvider) CanCheckcast(v value.Value, typ string, ctx *Context) bool {
	for _, p := range d.providers {
		if p.CanCheckcast(v, typ, ctx) {
			return true
		}
	}
	return false
}

func (d *DelegatingProvider) Checkcast(v value.Value, typ string, ctx *Context) (bool, error) {
	for _, p := range d.providers {
		if p.CanCheckcast(v, typ, ctx) {
			return p.Checkcast(v, typ, ctx)
		}
	}
	return false, &NoProviderError{Op: "checkcast", Owner: typ, Desc: typeNameOf(v)}
}

func (d *DelegatingProvider) CanCheckEquality(a, b value.Value, ctx *Context) bool {
	for _, p := range d.providers {
		if p.CanCheckEquality(a, b, ctx) {
			return true
		}
	}
	return false
}

func (d *DelegatingProvider) CheckEquality(a, b value.Value, ctx *Context) (bool, error) {
	for _, p := range d.providers {
		if p.CanCheckEquality(a, b, ctx) {
			return p.CheckEquality(a, b, ctx)
		}
	}
	return false, &NoProviderError{Op: "equality", Owner: typeNameOf(a), Desc: typeNameOf(b)}
}

func typeNameOf(v value.Value) string {
	if v == nil {
		return "null"
	}
	return v.TypeName()
}
