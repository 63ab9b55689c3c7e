package jdk

import (
	"fmt"
	"slices"
	"unicode/utf16"

	"jdeobf/internal/jstring"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

// stringBuffer is the mutable native state of StringBuilder and
// StringBuffer objects.
type stringBuffer struct {
	units []uint16
}

func bufferArg(c *vm.Call) (*stringBuffer, error) {
	if obj, ok := c.Target.(*value.Object); ok {
		if b, ok := obj.Native().(*stringBuffer); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s receiver is not a builder: %w", c.Owner, vm.ErrUnsupported)
}

// reverseUnits reverses code units while keeping surrogate pairs in order.
func reverseUnits(units []uint16) {
	slices.Reverse(units)
	for i := 0; i+1 < len(units); i++ {
		lo, hi := rune(units[i]), rune(units[i+1])
		if lo >= 0xDC00 && lo < 0xE000 && utf16.IsSurrogate(hi) && hi < 0xDC00 {
			units[i], units[i+1] = units[i+1], units[i]
			i++
		}
	}
}

func registerStringBuilder(p *MappedMethodProvider, owner string) {
	self := "L" + owner + ";"
	mutate := func(fn func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error) MethodFunc {
		return func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bufferArg(c)
			if err != nil {
				return nil, err
			}
			if err := fn(b, c, ctx); err != nil {
				return nil, err
			}
			return c.Target, nil
		}
	}
	appendString := mutate(func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error {
		b.units = append(b.units, jstring.UTF16(toJavaString(c.Args[0]))...)
		return nil
	})

	p.registerAll(owner, map[string]MethodFunc{
		"<init>()V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return construct(c, &stringBuffer{}), nil
		},
		"<init>(I)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			n, _ := value.AsInt(c.Args[0])
			if n < 0 {
				return nil, vm.Throw(ctx, vm.NegativeArraySizeException, fmt.Sprint(n))
			}
			return construct(c, &stringBuffer{units: make([]uint16, 0, n)}), nil
		},
		"<init>(Ljava/lang/String;)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := stringArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return construct(c, &stringBuffer{units: jstring.UTF16(s)}), nil
		},
		"<init>(Ljava/lang/CharSequence;)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if value.IsNull(c.Args[0]) {
				return nil, nullPointer(ctx, "CharSequence.length()")
			}
			return construct(c, &stringBuffer{units: jstring.UTF16(toJavaString(c.Args[0]))}), nil
		},
		"append(C)" + self: mutate(func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error {
			ch, _ := value.AsChar(c.Args[0])
			b.units = append(b.units, ch)
			return nil
		}),
		"append([C)" + self: mutate(func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error {
			units, err := charsArg(ctx, c.Args[0])
			if err != nil {
				return err
			}
			b.units = append(b.units, units...)
			return nil
		}),
		"toString()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bufferArg(c)
			if err != nil {
				return nil, err
			}
			return str(jstring.FromUTF16(b.units)), nil
		},
		"length()I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bufferArg(c)
			if err != nil {
				return nil, err
			}
			return value.Int(len(b.units)), nil
		},
		"charAt(I)C": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bufferArg(c)
			if err != nil {
				return nil, err
			}
			i, _ := value.AsInt(c.Args[0])
			if i < 0 || int(i) >= len(b.units) {
				return nil, outOfBounds(ctx, vm.StringIndexOutOfBounds, int(i), len(b.units))
			}
			return value.Char(b.units[i]), nil
		},
		"setCharAt(IC)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bufferArg(c)
			if err != nil {
				return nil, err
			}
			i, _ := value.AsInt(c.Args[0])
			ch, _ := value.AsChar(c.Args[1])
			if i < 0 || int(i) >= len(b.units) {
				return nil, outOfBounds(ctx, vm.StringIndexOutOfBounds, int(i), len(b.units))
			}
			b.units[i] = ch
			return nil, nil
		},
		"setLength(I)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bufferArg(c)
			if err != nil {
				return nil, err
			}
			n, _ := value.AsInt(c.Args[0])
			if n < 0 {
				return nil, outOfBounds(ctx, vm.StringIndexOutOfBounds, int(n), len(b.units))
			}
			for len(b.units) < int(n) {
				b.units = append(b.units, 0)
			}
			b.units = b.units[:n]
			return nil, nil
		},
		"reverse()" + self: mutate(func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error {
			reverseUnits(b.units)
			return nil
		}),
		"deleteCharAt(I)" + self: mutate(func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error {
			i, _ := value.AsInt(c.Args[0])
			if i < 0 || int(i) >= len(b.units) {
				return outOfBounds(ctx, vm.StringIndexOutOfBounds, int(i), len(b.units))
			}
			b.units = slices.Delete(b.units, int(i), int(i)+1)
			return nil
		}),
		"insert(ILjava/lang/String;)" + self: mutate(func(b *stringBuffer, c *vm.Call, ctx *vm.Context) error {
			i, _ := value.AsInt(c.Args[0])
			if i < 0 || int(i) > len(b.units) {
				return outOfBounds(ctx, vm.StringIndexOutOfBounds, int(i), len(b.units))
			}
			b.units = slices.Insert(b.units, int(i), jstring.UTF16(toJavaString(c.Args[1]))...)
			return nil
		}),
	})
	for _, arg := range []string{"Ljava/lang/String;", "Ljava/lang/Object;", "Ljava/lang/CharSequence;", "I", "J", "Z", "F", "D"} {
		p.Register(Key(owner, "append", "("+arg+")"+self), appendString)
	}
}
