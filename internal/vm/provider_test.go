package vm

import (
	"errors"
	"testing"

	"jdeobf/internal/insn"
	"jdeobf/internal/value"
)

// funcProvider is a method provider driven by closures, counting actions.
type funcProvider struct {
	MethodProvider
	can   func(c *Call) bool
	do    func(c *Call, ctx *Context) (value.Value, error)
	calls int
}

func (p *funcProvider) CanInvokeMethod(c *Call, ctx *Context) bool {
	return p.can(c)
}

func (p *funcProvider) InvokeMethod(c *Call, ctx *Context) (value.Value, error) {
	p.calls++
	return p.do(c, ctx)
}

func matchName(name string) func(*Call) bool {
	return func(c *Call) bool { return c.Name == name }
}

func TestDelegatingProviderPrecedence(t *testing.T) {
	first := &funcProvider{
		can: matchName("other"),
		do: func(*Call, *Context) (value.Value, error) {
			return value.Int(1), nil
		},
	}
	second := &funcProvider{
		can: matchName("target"),
		do: func(*Call, *Context) (value.Value, error) {
			return value.Int(2), nil
		},
	}
	catchAll := &funcProvider{
		can: func(*Call) bool { return true },
		do: func(*Call, *Context) (value.Value, error) {
			return value.Int(3), nil
		},
	}

	chain := NewDelegatingProvider(first, second)
	chain.Register(catchAll)
	ctx := NewContext()

	got, err := chain.InvokeMethod(&Call{Owner: "a/B", Name: "target", Desc: "()I"}, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != value.Int(2) {
		t.Errorf("InvokeMethod = %v, want 2", got)
	}
	if first.calls != 0 {
		t.Errorf("first provider action called %d times", first.calls)
	}
	if catchAll.calls != 0 {
		t.Errorf("later provider action called %d times", catchAll.calls)
	}
	if second.calls != 1 {
		t.Errorf("second provider action called %d times", second.calls)
	}
}

func TestDelegatingProviderNoMatch(t *testing.T) {
	chain := NewDelegatingProvider(&funcProvider{
		can: matchName("x"),
		do:  func(*Call, *Context) (value.Value, error) { return nil, nil },
	})
	ctx := NewContext()
	c := &Call{Owner: "a/B", Name: "y", Desc: "()V"}

	if chain.CanInvokeMethod(c, ctx) {
		t.Error("CanInvokeMethod should be false")
	}
	_, err := chain.InvokeMethod(c, ctx)
	var npe *NoProviderError
	if !errors.As(err, &npe) || npe.Name != "y" || npe.Op != "invoke" {
		t.Errorf("error = %v, want NoProviderError for y", err)
	}

	if _, err := chain.GetField(&Call{Owner: "a/B", Name: "f", Desc: "I"}, ctx); !errors.As(err, &npe) {
		t.Errorf("GetField error = %v", err)
	}
	if _, err := chain.CheckEquality(value.Null, value.Null, ctx); !errors.As(err, &npe) {
		t.Errorf("CheckEquality error = %v", err)
	}
}

func TestRoleDefaults(t *testing.T) {
	var mp MethodProvider
	ctx := NewContext()
	c := &Call{Op: insn.GETSTATIC, Owner: "a/B", Name: "f", Desc: "I"}
	if mp.CanGetField(c, ctx) || mp.CanPutField(c, value.Int(0), ctx) {
		t.Error("method role should not handle fields")
	}
	if _, err := mp.GetField(c, ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("GetField error = %v", err)
	}
	if mp.CanCheckEquality(value.Null, value.Null, ctx) {
		t.Error("method role should not handle equality")
	}

	var fp FieldProvider
	if fp.CanInvokeMethod(c, ctx) {
		t.Error("field role should not invoke")
	}
	if _, err := fp.Checkcast(value.Null, "a/B", ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Checkcast error = %v", err)
	}

	var cp ComparisonProvider
	if _, err := cp.InvokeMethod(c, ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("InvokeMethod error = %v", err)
	}
	if err := cp.PutField(c, value.Int(0), ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("PutField error = %v", err)
	}
}
