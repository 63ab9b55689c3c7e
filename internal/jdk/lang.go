package jdk

import (
	"fmt"
	"strconv"
	"strings"

	"jdeobf/internal/descriptor"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

func registerObject(p *MappedMethodProvider) {
	p.registerAll("java/lang/Object", map[string]MethodFunc{
		"<init>()V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if _, ok := c.Target.(*value.Object); ok {
				return nil, nil
			}
			return construct(c, nil), nil
		},
		"getClass()Ljava/lang/Class;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return value.ValueOf(value.ClassHandle{Name: c.Target.TypeName()}), nil
		},
		"toString()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return str(toJavaString(c.Target)), nil
		},
		"hashCode()I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if s, ok := value.StringOf(c.Target); ok {
				return value.Int(hashCode(s)), nil
			}
			return nil, fmt.Errorf("identity hash of %s: %w", c.Target.TypeName(), vm.ErrUnsupported)
		},
		"equals(Ljava/lang/Object;)Z": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return value.Boolean(c.Target == c.Args[0]), nil
		},
	})

	className := func(c *vm.Call) (string, error) {
		if obj, ok := c.Target.(*value.Object); ok {
			if h, ok := obj.Native().(value.ClassHandle); ok {
				return h.Name, nil
			}
		}
		return "", fmt.Errorf("receiver is not a class: %w", vm.ErrUnsupported)
	}
	p.registerAll("java/lang/Class", map[string]MethodFunc{
		"getName()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			name, err := className(c)
			if err != nil {
				return nil, err
			}
			return str(dotted(name)), nil
		},
		"getSimpleName()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			name, err := className(c)
			if err != nil {
				return nil, err
			}
			name = name[strings.LastIndexAny(name, "/$")+1:]
			return str(name), nil
		},
	})
}

// wrapper describes a boxed primitive class.
type wrapper struct {
	class string
	prim  string
	unbox string
}

var wrapperClasses = []wrapper{
	{"java/lang/Boolean", "Z", "booleanValue"},
	{"java/lang/Byte", "B", "byteValue"},
	{"java/lang/Character", "C", "charValue"},
	{"java/lang/Short", "S", "shortValue"},
	{"java/lang/Integer", "I", "intValue"},
	{"java/lang/Long", "J", "longValue"},
	{"java/lang/Float", "F", "floatValue"},
	{"java/lang/Double", "D", "doubleValue"},
}

func box(class string, v value.Value) value.Value {
	return value.NewObject(class, v.Native())
}

func numberFormat(ctx *vm.Context, s string, radix int) error {
	msg := fmt.Sprintf("For input string: %q", s)
	if radix != 10 {
		msg += fmt.Sprintf(" under radix %d", radix)
	}
	return vm.Throw(ctx, vm.NumberFormatException, msg)
}

// parse implements Integer.parseInt and Long.parseLong.
func parse(ctx *vm.Context, c *vm.Call, bits int) (int64, error) {
	if value.IsNull(c.Args[0]) {
		return 0, vm.Throw(ctx, vm.NumberFormatException, "Cannot parse null string: null")
	}
	s, err := stringArg(ctx, c.Args[0])
	if err != nil {
		return 0, err
	}
	radix := int32(10)
	if len(c.Args) > 1 {
		radix, _ = value.AsInt(c.Args[1])
	}
	if radix < 2 || radix > 36 {
		return 0, vm.Throw(ctx, vm.NumberFormatException, fmt.Sprintf("radix %d out of range", radix))
	}
	// strconv accepts underscores only for base 0, which is never passed
	n, err := strconv.ParseInt(s, int(radix), bits)
	if err != nil {
		return 0, numberFormat(ctx, s, int(radix))
	}
	return n, nil
}

func registerNumbers(p *MappedMethodProvider) {
	for _, w := range wrapperClasses {
		t := descriptor.MustParse(w.prim)
		p.Register(Key(w.class, "valueOf", "("+w.prim+")L"+w.class+";"),
			func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
				return box(w.class, c.Args[0]), nil
			})
		p.Register(Key(w.class, w.unbox, "()"+w.prim),
			func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
				return value.As(c.Target, t)
			})
		p.Register(Key(w.class, "toString", "()Ljava/lang/String;"),
			func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
				return str(toJavaString(c.Target)), nil
			})
	}

	toString := func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
		return str(toJavaString(c.Args[0])), nil
	}
	p.registerAll("java/lang/Integer", map[string]MethodFunc{
		"parseInt(Ljava/lang/String;)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, err := parse(ctx, c, 32)
			return value.Int(n), err
		},
		"parseInt(Ljava/lang/String;I)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, err := parse(ctx, c, 32)
			return value.Int(n), err
		},
		"valueOf(Ljava/lang/String;)Ljava/lang/Integer;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, err := parse(ctx, c, 32)
			if err != nil {
				return nil, err
			}
			return box("java/lang/Integer", value.Int(n)), nil
		},
		"toString(I)Ljava/lang/String;": toString,
		"toHexString(I)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, _ := value.AsInt(c.Args[0])
			return str(strconv.FormatUint(uint64(uint32(n)), 16)), nil
		},
		"toBinaryString(I)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, _ := value.AsInt(c.Args[0])
			return str(strconv.FormatUint(uint64(uint32(n)), 2)), nil
		},
	})
	p.registerAll("java/lang/Long", map[string]MethodFunc{
		"parseLong(Ljava/lang/String;)J": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, err := parse(ctx, c, 64)
			return value.Long(n), err
		},
		"parseLong(Ljava/lang/String;I)J": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, err := parse(ctx, c, 64)
			return value.Long(n), err
		},
		"toString(J)Ljava/lang/String;": toString,
		"toHexString(J)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, _ := value.AsLong(c.Args[0])
			return str(strconv.FormatUint(uint64(n), 16)), nil
		},
	})
	p.Register(Key("java/lang/Character", "toString", "(C)Ljava/lang/String;"), toString)
}

func registerMath(p *MappedMethodProvider) {
	p.registerAll("java/lang/Math", map[string]MethodFunc{
		"abs(I)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, _ := value.AsInt(c.Args[0])
			if n < 0 {
				n = -n
			}
			return value.Int(n), nil
		},
		"abs(J)J": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, _ := value.AsLong(c.Args[0])
			if n < 0 {
				n = -n
			}
			return value.Long(n), nil
		},
		"abs(D)D": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			d, _ := value.AsDouble(c.Args[0])
			if d < 0 || (d == 0 && 1/d < 0) {
				d = -d
			}
			return value.Double(d), nil
		},
		"min(II)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			a, _ := value.AsInt(c.Args[0])
			b, _ := value.AsInt(c.Args[1])
			return value.Int(min(a, b)), nil
		},
		"max(II)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			a, _ := value.AsInt(c.Args[0])
			b, _ := value.AsInt(c.Args[1])
			return value.Int(max(a, b)), nil
		},
		"min(JJ)J": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			a, _ := value.AsLong(c.Args[0])
			b, _ := value.AsLong(c.Args[1])
			return value.Long(min(a, b)), nil
		},
		"max(JJ)J": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			a, _ := value.AsLong(c.Args[0])
			b, _ := value.AsLong(c.Args[1])
			return value.Long(max(a, b)), nil
		},
	})
}

func registerSystem(p *MappedMethodProvider) {
	p.Register("java/lang/System.arraycopy(Ljava/lang/Object;ILjava/lang/Object;II)V",
		func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if value.IsNull(c.Args[0]) || value.IsNull(c.Args[2]) {
				return nil, vm.Throw(ctx, vm.NullPointerException, "arraycopy on null")
			}
			src, ok1 := c.Args[0].(*value.Array)
			dst, ok2 := c.Args[2].(*value.Array)
			if !ok1 || !ok2 || (src.ElementType().Sort.IsPrimitive() || dst.ElementType().Sort.IsPrimitive()) && src.TypeName() != dst.TypeName() {
				return nil, vm.Throw(ctx, "java/lang/ArrayStoreException", "arraycopy: argument type mismatch")
			}
			from, _ := value.AsInt(c.Args[1])
			to, _ := value.AsInt(c.Args[3])
			n, _ := value.AsInt(c.Args[4])
			if n < 0 || from < 0 || to < 0 || int(from)+int(n) > src.Len() || int(to)+int(n) > dst.Len() {
				return nil, vm.Throw(ctx, vm.ArrayIndexOutOfBounds,
					fmt.Sprintf("arraycopy: last source index %d out of bounds for length %d", int(from)+int(n), src.Len()))
			}
			tmp := make([]value.Value, n)
			copy(tmp, src.Elements()[from:from+n])
			for i, v := range tmp {
				dst.Set(int(to)+i, v)
			}
			return nil, nil
		})
}
