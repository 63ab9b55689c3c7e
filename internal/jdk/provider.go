// Package jdk simulates the parts of the Java standard library that string
// and constant decryption routines call.
package jdk

import (
	"fmt"
	"slices"

	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

// MethodFunc implements one method. c.Target is the receiver (nil for static
// methods); for constructors the returned value's native state initializes
// the new object.
type MethodFunc func(c *vm.Call, ctx *vm.Context) (value.Value, error)

// Key returns the registry key of a method, e.g.
// "java/lang/String.length()I".
func Key(owner, name, desc string) string {
	return owner + "." + name + desc
}

// MappedMethodProvider serves methods from a registry keyed by
// owner.name(desc). Instance methods not registered on the declared owner
// are looked up on its ancestors, so a call through a subclass reaches the
// inherited implementation.
type MappedMethodProvider struct {
	vm.MethodProvider
	methods map[string]MethodFunc
}

// NewMappedMethodProvider returns an empty registry.
func NewMappedMethodProvider() *MappedMethodProvider {
	return &MappedMethodProvider{methods: make(map[string]MethodFunc)}
}

// Register adds or replaces the implementation for key.
func (p *MappedMethodProvider) Register(key string, fn MethodFunc) {
	p.methods[key] = fn
}

// registerAll adds a table of name+desc to implementation for owner.
func (p *MappedMethodProvider) registerAll(owner string, fns map[string]MethodFunc) {
	for sig, fn := range fns {
		p.methods[owner+"."+sig] = fn
	}
}

// Len returns the number of registered methods.
func (p *MappedMethodProvider) Len() int {
	return len(p.methods)
}

// Keys returns the registered keys, sorted.
func (p *MappedMethodProvider) Keys() []string {
	keys := make([]string, 0, len(p.methods))
	for k := range p.methods {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (p *MappedMethodProvider) lookup(c *vm.Call, ctx *vm.Context) (MethodFunc, bool) {
	if fn, ok := p.methods[Key(c.Owner, c.Name, c.Desc)]; ok {
		return fn, true
	}
	if c.Target == nil || c.Name == "<init>" {
		return nil, false
	}
	var ancestors []string
	if ctx != nil && ctx.Hierarchy != nil {
		ancestors = slices.Clone(ctx.Hierarchy.Ancestors(c.Owner))
	}
	for _, a := range ancestors {
		ancestors = append(ancestors, vm.JDKAncestors(a)...)
	}
	ancestors = append(ancestors, vm.JDKAncestors(c.Owner)...)
	for _, a := range ancestors {
		if fn, ok := p.methods[Key(a, c.Name, c.Desc)]; ok {
			return fn, true
		}
	}
	return nil, false
}

func (p *MappedMethodProvider) CanInvokeMethod(c *vm.Call, ctx *vm.Context) bool {
	_, ok := p.lookup(c, ctx)
	return ok
}

func (p *MappedMethodProvider) InvokeMethod(c *vm.Call, ctx *vm.Context) (value.Value, error) {
	fn, ok := p.lookup(c, ctx)
	if !ok {
		return nil, &vm.NoProviderError{Op: "invoke", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	return fn(c, ctx)
}

// MappedFieldProvider serves read-only static fields from a registry keyed
// by owner.name.
type MappedFieldProvider struct {
	vm.FieldProvider
	fields map[string]value.Value
}

var _ vm.Provider = (*MappedFieldProvider)(nil)

// NewMappedFieldProvider returns an empty registry.
func NewMappedFieldProvider() *MappedFieldProvider {
	return &MappedFieldProvider{fields: make(map[string]value.Value)}
}

// Set registers a static field value.
func (p *MappedFieldProvider) Set(owner, name string, v value.Value) {
	p.fields[owner+"."+name] = v
}

func (p *MappedFieldProvider) CanGetField(c *vm.Call, ctx *vm.Context) bool {
	if c.Target != nil {
		return false
	}
	_, ok := p.fields[c.Owner+"."+c.Name]
	return ok
}

func (p *MappedFieldProvider) GetField(c *vm.Call, ctx *vm.Context) (value.Value, error) {
	v, ok := p.fields[c.Owner+"."+c.Name]
	if !ok || c.Target != nil {
		return nil, &vm.NoProviderError{Op: "getstatic", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	return v, nil
}

// Registered constants are read-only.
func (p *MappedFieldProvider) CanPutField(c *vm.Call, v value.Value, ctx *vm.Context) bool {
	return false
}

func (p *MappedFieldProvider) PutField(c *vm.Call, v value.Value, ctx *vm.Context) error {
	return vm.ErrUnsupported
}

// Standard returns a registry holding every simulated standard library
// method.
func Standard() *MappedMethodProvider {
	p := NewMappedMethodProvider()
	registerString(p)
	registerStringBuilder(p, "java/lang/StringBuilder")
	registerStringBuilder(p, "java/lang/StringBuffer")
	registerObject(p)
	registerNumbers(p)
	registerMath(p)
	registerSystem(p)
	registerThread(p)
	registerThrowables(p)
	registerInvoke(p)
	return p
}

// StandardFields returns the constants of the boxed number classes.
func StandardFields() *MappedFieldProvider {
	p := NewMappedFieldProvider()
	p.Set("java/lang/Integer", "MAX_VALUE", value.Int(1<<31-1))
	p.Set("java/lang/Integer", "MIN_VALUE", value.Int(-1<<31))
	p.Set("java/lang/Long", "MAX_VALUE", value.Long(1<<63-1))
	p.Set("java/lang/Long", "MIN_VALUE", value.Long(-1<<63))
	p.Set("java/lang/Character", "MAX_VALUE", value.Char(0xFFFF))
	p.Set("java/lang/Byte", "MAX_VALUE", value.Byte(127))
	p.Set("java/lang/Byte", "MIN_VALUE", value.Byte(-128))
	p.Set("java/lang/Short", "MAX_VALUE", value.Short(1<<15-1))
	p.Set("java/lang/Short", "MIN_VALUE", value.Short(-1<<15))
	p.Set("java/lang/Boolean", "TRUE", box("java/lang/Boolean", value.Boolean(true)))
	p.Set("java/lang/Boolean", "FALSE", box("java/lang/Boolean", value.Boolean(false)))
	return p
}

// Providers returns the standard environment in precedence order: methods,
// static constants, then type checks and reference equality.
func Providers() []vm.Provider {
	return []vm.Provider{Standard(), StandardFields(), StandardComparison{}}
}

// construct finishes a constructor call. A receiver that is already an
// object (a subclass calling its super constructor) takes native directly;
// otherwise the returned value carries it.
func construct(c *vm.Call, native any) value.Value {
	if obj, ok := c.Target.(*value.Object); ok {
		obj.SetNative(native)
		return nil
	}
	return value.NewObject(c.Owner, native)
}

func nullPointer(ctx *vm.Context, what string) error {
	return vm.Throw(ctx, vm.NullPointerException, fmt.Sprintf("Cannot invoke %s because value is null", what))
}
