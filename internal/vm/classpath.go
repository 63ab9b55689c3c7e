package vm

import (
	"fmt"

	"jdeobf/internal/descriptor"
	"jdeobf/internal/insn"
	"jdeobf/internal/value"
)

// FieldInfo describes a declared static field.
type FieldInfo struct {
	Name string
	Desc string
	// Constant is the ConstantValue initializer, or nil.
	Constant any
}

// ClassSource is the loaded program as seen by the classpath providers.
type ClassSource interface {
	MethodLookup
	Hierarchy
	HasClass(class string) bool
	StaticFields(class string) []FieldInfo
}

// ClasspathProvider executes methods whose bodies are available from a
// ClassSource, resolving virtual calls against the hierarchy.
type ClasspathProvider struct {
	MethodProvider
	Source  ClassSource
	Statics *StaticFields
}

// NewClasspathProvider returns a provider executing methods from src.
// Static initializers run through statics on first use of a class.
func NewClasspathProvider(src ClassSource, statics *StaticFields) *ClasspathProvider {
	return &ClasspathProvider{Source: src, Statics: statics}
}

// Resolve finds the method body a call dispatches to. Virtual calls try the
// receiver's runtime class first, then the declared owner and its
// ancestors, then its descendants.
func (p *ClasspathProvider) Resolve(c *Call) (*insn.Method, bool) {
	var order []string
	virtual := c.Op == insn.INVOKEVIRTUAL || c.Op == insn.INVOKEINTERFACE
	if virtual && c.Target != nil && !value.IsNull(c.Target) {
		rt := c.Target.TypeName()
		if rt != c.Owner {
			order = append(order, rt)
			order = append(order, p.Source.Ancestors(rt)...)
		}
	}
	order = append(order, c.Owner)
	if c.Name != "<init>" {
		order = append(order, p.Source.Ancestors(c.Owner)...)
		if virtual {
			order = append(order, p.Source.Descendants(c.Owner)...)
		}
	}
	for _, class := range order {
		if m, ok := p.Source.LookupMethod(class, c.Name, c.Desc); ok && m.HasCode() {
			return m, true
		}
	}
	return nil, false
}

func (p *ClasspathProvider) CanInvokeMethod(c *Call, ctx *Context) bool {
	_, ok := p.Resolve(c)
	return ok
}

func (p *ClasspathProvider) InvokeMethod(c *Call, ctx *Context) (value.Value, error) {
	m, ok := p.Resolve(c)
	if !ok {
		return nil, &NoProviderError{Op: "invoke", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	if p.Statics != nil {
		if err := p.Statics.Initialize(ctx, m.Owner); err != nil {
			return nil, err
		}
	}

	instance := c.Target
	if u, ok := instance.(*value.Uninitialized); ok {
		obj := u.Object()
		if obj == nil {
			var err error
			if obj, err = u.Initialize(nil, ctx.Patches); err != nil {
				return nil, err
			}
		}
		instance = obj
	}
	if m.IsStatic() {
		instance = nil
	}
	ctx.Logger.Debug("invoke", "method", m.String(), "depth", ctx.CallStack.Len())
	return Execute(ctx, m, c.Args, instance)
}

// StaticFields stores static field values of loaded classes and runs each
// class's static initializer once.
type StaticFields struct {
	FieldProvider
	Source ClassSource

	values      map[string]value.Value
	initialized map[string]bool
}

// NewStaticFields returns an empty static field store for src.
func NewStaticFields(src ClassSource) *StaticFields {
	return &StaticFields{
		Source:      src,
		values:      make(map[string]value.Value),
		initialized: make(map[string]bool),
	}
}

func staticKey(class, name string) string {
	return class + "." + name
}

// Initialize assigns default and constant values for class and runs its
// <clinit>, superclasses first. It does nothing for classes already
// initialized or not loaded.
func (s *StaticFields) Initialize(ctx *Context, class string) error {
	if s.initialized[class] || !s.Source.HasClass(class) {
		return nil
	}
	s.initialized[class] = true
	for _, a := range s.Source.Ancestors(class) {
		if err := s.Initialize(ctx, a); err != nil {
			return err
		}
	}
	for _, f := range s.Source.StaticFields(class) {
		t, err := descriptor.Parse(f.Desc)
		if err != nil {
			return fmt.Errorf("static field %s.%s: %w", class, f.Name, err)
		}
		v := value.Zero(t)
		if f.Constant != nil {
			v = value.ValueOf(f.Constant)
			if t.Sort.IsPrimitive() {
				if cv, err := value.As(v, t); err == nil {
					v = cv
				}
			}
		}
		s.values[staticKey(class, f.Name)] = v
	}
	if m, ok := s.Source.LookupMethod(class, "<clinit>", "()V"); ok && m.HasCode() {
		ctx.Logger.Debug("static initializer", "class", class)
		if _, err := Execute(ctx, m, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// declaring finds the loaded class that declares a static field reachable
// from owner.
func (s *StaticFields) declaring(owner, name string) (string, bool) {
	for _, class := range append([]string{owner}, s.Source.Ancestors(owner)...) {
		for _, f := range s.Source.StaticFields(class) {
			if f.Name == name {
				return class, true
			}
		}
	}
	return "", false
}

func (s *StaticFields) CanGetField(c *Call, ctx *Context) bool {
	if c.Target != nil {
		return false
	}
	_, ok := s.declaring(c.Owner, c.Name)
	return ok
}

func (s *StaticFields) GetField(c *Call, ctx *Context) (value.Value, error) {
	class, ok := s.declaring(c.Owner, c.Name)
	if !ok {
		return nil, &NoProviderError{Op: "getstatic", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	if err := s.Initialize(ctx, class); err != nil {
		return nil, err
	}
	return s.values[staticKey(class, c.Name)], nil
}

func (s *StaticFields) CanPutField(c *Call, v value.Value, ctx *Context) bool {
	return s.CanGetField(c, ctx)
}

func (s *StaticFields) PutField(c *Call, v value.Value, ctx *Context) error {
	class, ok := s.declaring(c.Owner, c.Name)
	if !ok {
		return &NoProviderError{Op: "putstatic", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	if err := s.Initialize(ctx, class); err != nil {
		return err
	}
	s.values[staticKey(class, c.Name)] = v
	return nil
}

// Get returns a static field value, for reporting.
func (s *StaticFields) Get(class, name string) (value.Value, bool) {
	v, ok := s.values[staticKey(class, name)]
	return v, ok
}

// ObjectFields stores instance fields of objects whose class is loaded.
type ObjectFields struct {
	FieldProvider
	Source ClassSource
}

func (o *ObjectFields) accepts(c *Call) (*value.Object, bool) {
	obj, ok := c.Target.(*value.Object)
	if !ok {
		return nil, false
	}
	return obj, o.Source.HasClass(obj.TypeName())
}

func (o *ObjectFields) CanGetField(c *Call, ctx *Context) bool {
	_, ok := o.accepts(c)
	return ok
}

func (o *ObjectFields) GetField(c *Call, ctx *Context) (value.Value, error) {
	obj, ok := o.accepts(c)
	if !ok {
		return nil, &NoProviderError{Op: "getfield", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	if v, ok := obj.Field(c.Name); ok {
		return v, nil
	}
	t, err := descriptor.Parse(c.Desc)
	if err != nil {
		return nil, err
	}
	return value.Zero(t), nil
}

func (o *ObjectFields) CanPutField(c *Call, v value.Value, ctx *Context) bool {
	_, ok := o.accepts(c)
	return ok
}

func (o *ObjectFields) PutField(c *Call, v value.Value, ctx *Context) error {
	obj, ok := o.accepts(c)
	if !ok {
		return &NoProviderError{Op: "putfield", Owner: c.Owner, Name: c.Name, Desc: c.Desc}
	}
	obj.SetField(c.Name, v)
	return nil
}
