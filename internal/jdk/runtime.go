package jdk

import (
	"fmt"

	"jdeobf/internal/descriptor"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

const stackTraceElementClass = "java/lang/StackTraceElement"

// throwableClasses are the exception types whose constructors and accessors
// are simulated. Owners of invokevirtual are the static receiver type, so
// the accessors are registered on each of them.
var throwableClasses = []string{
	"java/lang/Throwable",
	"java/lang/Exception",
	"java/lang/Error",
	"java/lang/RuntimeException",
	vm.ArithmeticException,
	vm.NullPointerException,
	vm.ArrayIndexOutOfBounds,
	vm.StringIndexOutOfBounds,
	vm.ClassCastException,
	vm.IllegalArgumentException,
	vm.NumberFormatException,
	vm.UnsupportedOperation,
	"java/lang/IllegalStateException",
	"java/lang/IndexOutOfBoundsException",
}

// stackTraceElement is the native state of java.lang.StackTraceElement.
type stackTraceElement vm.StackTraceElement

func (stackTraceElement) JavaTypeName() string { return stackTraceElementClass }

func stackTraceArray(elems []vm.StackTraceElement) *value.Array {
	out := make([]value.Value, len(elems))
	for i, e := range elems {
		out[i] = value.ValueOf(stackTraceElement(e))
	}
	return value.ArrayOf("[L"+stackTraceElementClass+";", out...)
}

func throwableArg(c *vm.Call) (*vm.Throwable, bool) {
	obj, ok := c.Target.(*value.Object)
	if !ok {
		return nil, false
	}
	t, ok := obj.Native().(*vm.Throwable)
	return t, ok
}

func registerThread(p *MappedMethodProvider) {
	p.registerAll("java/lang/Thread", map[string]MethodFunc{
		"currentThread()Ljava/lang/Thread;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return value.ValueOf(value.ThreadHandle{Name: "main"}), nil
		},
		"getName()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if obj, ok := c.Target.(*value.Object); ok {
				if h, ok := obj.Native().(value.ThreadHandle); ok {
					return str(h.Name), nil
				}
			}
			return nil, fmt.Errorf("receiver is not a thread: %w", vm.ErrUnsupported)
		},
		// The trace starts with getStackTrace itself, then the interpreted
		// frames innermost first, so index 1 is the caller.
		"getStackTrace()[Ljava/lang/StackTraceElement;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			elems := append([]vm.StackTraceElement{{Class: "java/lang/Thread", Method: "getStackTrace"}}, ctx.StackTrace()...)
			return stackTraceArray(elems), nil
		},
	})

	element := func(c *vm.Call) (vm.StackTraceElement, error) {
		if obj, ok := c.Target.(*value.Object); ok {
			if e, ok := obj.Native().(stackTraceElement); ok {
				return vm.StackTraceElement(e), nil
			}
		}
		return vm.StackTraceElement{}, fmt.Errorf("receiver is not a stack trace element: %w", vm.ErrUnsupported)
	}
	p.registerAll(stackTraceElementClass, map[string]MethodFunc{
		"getClassName()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			e, err := element(c)
			if err != nil {
				return nil, err
			}
			return str(dotted(e.Class)), nil
		},
		"getMethodName()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			e, err := element(c)
			if err != nil {
				return nil, err
			}
			return str(e.Method), nil
		},
	})
}

func registerThrowables(p *MappedMethodProvider) {
	newThrowable := func(c *vm.Call, ctx *vm.Context, msg string, cause value.Value) value.Value {
		return construct(c, &vm.Throwable{Message: msg, Cause: cause, StackTrace: ctx.StackTrace()})
	}
	message := func(ctx *vm.Context, v value.Value) (string, error) {
		if value.IsNull(v) {
			return "", nil
		}
		return stringArg(ctx, v)
	}
	methods := map[string]MethodFunc{
		"<init>()V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return newThrowable(c, ctx, "", nil), nil
		},
		"<init>(Ljava/lang/String;)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			msg, err := message(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return newThrowable(c, ctx, msg, nil), nil
		},
		"<init>(Ljava/lang/String;Ljava/lang/Throwable;)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			msg, err := message(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return newThrowable(c, ctx, msg, c.Args[1]), nil
		},
		"getMessage()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			t, ok := throwableArg(c)
			if !ok || t.Message == "" {
				return value.Null, nil
			}
			return str(t.Message), nil
		},
		"getCause()Ljava/lang/Throwable;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			t, ok := throwableArg(c)
			if !ok || t.Cause == nil {
				return value.Null, nil
			}
			return t.Cause, nil
		},
		"getStackTrace()[Ljava/lang/StackTraceElement;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			t, ok := throwableArg(c)
			if !ok {
				return stackTraceArray(nil), nil
			}
			return stackTraceArray(t.StackTrace), nil
		},
		"toString()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return str(toJavaString(c.Target)), nil
		},
	}
	for _, class := range throwableClasses {
		p.registerAll(class, methods)
		p.Register(Key(class, "fillInStackTrace", "()Ljava/lang/Throwable;"),
			func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
				if t, ok := throwableArg(c); ok {
					t.StackTrace = ctx.StackTrace()
				}
				return c.Target, nil
			})
	}
}

// Method handle reference kinds.
const (
	refInvokeStatic  = 6
	refInvokeVirtual = 5
)

func registerInvoke(p *MappedMethodProvider) {
	const (
		handles = "java/lang/invoke/MethodHandles"
		lookup  = "java/lang/invoke/MethodHandles$Lookup"
	)
	// lookup() is caller sensitive: the innermost interpreted frame is the
	// method that called it.
	p.Register(Key(handles, "lookup", "()L"+lookup+";"),
		func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return value.ValueOf(value.LookupHandle{Caller: ctx.CallerClass(0)}), nil
		})

	lookupArg := func(c *vm.Call) (value.LookupHandle, error) {
		if obj, ok := c.Target.(*value.Object); ok {
			if h, ok := obj.Native().(value.LookupHandle); ok {
				return h, nil
			}
		}
		return value.LookupHandle{}, fmt.Errorf("receiver is not a lookup: %w", vm.ErrUnsupported)
	}
	find := func(kind int) MethodFunc {
		return func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if _, err := lookupArg(c); err != nil {
				return nil, err
			}
			class, ok1 := c.Args[0].(*value.Object)
			name, ok2 := value.StringOf(c.Args[1])
			mtype, ok3 := c.Args[2].(*value.Object)
			if !ok1 || !ok2 || !ok3 {
				return nil, vm.Throw(ctx, vm.NullPointerException, "find: null argument")
			}
			ch, ok1 := class.Native().(value.ClassHandle)
			desc, ok2 := mtype.Native().(string)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("find: unexpected argument types: %w", vm.ErrUnsupported)
			}
			if _, err := descriptor.ArgumentTypes(desc); err != nil {
				return nil, err
			}
			return value.ValueOf(value.MethodHandle{Kind: kind, Owner: ch.Name, Name: name, Desc: desc}), nil
		}
	}
	findSig := "(Ljava/lang/Class;Ljava/lang/String;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/MethodHandle;"
	p.registerAll(lookup, map[string]MethodFunc{
		"lookupClass()Ljava/lang/Class;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			h, err := lookupArg(c)
			if err != nil {
				return nil, err
			}
			return value.ValueOf(value.ClassHandle{Name: h.Caller}), nil
		},
		"findStatic" + findSig:  find(refInvokeStatic),
		"findVirtual" + findSig: find(refInvokeVirtual),
	})
}
