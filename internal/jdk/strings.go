package jdk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"jdeobf/internal/jstring"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

// stringArg returns the Go string held by v, throwing NullPointerException
// for null.
func stringArg(ctx *vm.Context, v value.Value) (string, error) {
	if value.IsNull(v) {
		return "", nullPointer(ctx, "String method")
	}
	if s, ok := value.StringOf(v); ok {
		return s, nil
	}
	return "", fmt.Errorf("%s is not a string: %w", v.TypeName(), vm.ErrUnsupported)
}

func arrayArg(ctx *vm.Context, v value.Value, desc string) (*value.Array, error) {
	if value.IsNull(v) {
		return nil, nullPointer(ctx, "array access")
	}
	a, ok := v.(*value.Array)
	if !ok || a.TypeName() != desc {
		return nil, fmt.Errorf("%s is not %s: %w", v.TypeName(), desc, vm.ErrUnsupported)
	}
	return a, nil
}

func charsArg(ctx *vm.Context, v value.Value) ([]uint16, error) {
	a, err := arrayArg(ctx, v, "[C")
	if err != nil {
		return nil, err
	}
	return a.Native().([]uint16), nil
}

func bytesArg(ctx *vm.Context, v value.Value) ([]byte, error) {
	a, err := arrayArg(ctx, v, "[B")
	if err != nil {
		return nil, err
	}
	signed := a.Native().([]int8)
	out := make([]byte, len(signed))
	for i, b := range signed {
		out[i] = byte(b)
	}
	return out, nil
}

func charArray(units []uint16) *value.Array {
	elems := make([]value.Value, len(units))
	for i, u := range units {
		elems[i] = value.Char(u)
	}
	return value.ArrayOf("[C", elems...)
}

func byteArray(b []byte) *value.Array {
	elems := make([]value.Value, len(b))
	for i, c := range b {
		elems[i] = value.Byte(int8(c))
	}
	return value.ArrayOf("[B", elems...)
}

func str(s string) value.Value {
	return value.NewString(s)
}

func outOfBounds(ctx *vm.Context, class string, index, length int) error {
	return vm.Throw(ctx, class, fmt.Sprintf("Index %d out of bounds for length %d", index, length))
}

// rangeCheck validates [begin, end) against length the way String and
// System.arraycopy report it.
func rangeCheck(ctx *vm.Context, class string, begin, end, length int) error {
	if begin < 0 || end > length || begin > end {
		return vm.Throw(ctx, class, fmt.Sprintf("begin %d, end %d, length %d", begin, end, length))
	}
	return nil
}

// encode implements String.getBytes for the charsets decryptors use.
func encode(ctx *vm.Context, s, charset string) ([]byte, error) {
	switch strings.ToUpper(charset) {
	case "UTF-8", "UTF8":
		units := jstring.UTF16(s)
		return []byte(jstring.FromUTF16(replaceLoneSurrogates(units))), nil
	case "ISO-8859-1", "ISO8859_1", "LATIN1":
		return encodeSingleByte(s, func(r rune) (byte, bool) {
			b, ok := charmap.ISO8859_1.EncodeRune(r)
			return b, ok
		}), nil
	case "US-ASCII", "ASCII":
		return encodeSingleByte(s, func(r rune) (byte, bool) {
			return byte(r), r < 0x80
		}), nil
	case "UTF-16BE":
		var out []byte
		for _, u := range jstring.UTF16(s) {
			out = append(out, byte(u>>8), byte(u))
		}
		return out, nil
	}
	return nil, vm.Throw(ctx, "java/io/UnsupportedEncodingException", charset)
}

func encodeSingleByte(s string, enc func(rune) (byte, bool)) []byte {
	var out []byte
	for _, u := range jstring.UTF16(s) {
		b, ok := enc(rune(u))
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// replaceLoneSurrogates maps unpaired surrogates to '?' as the JDK UTF-8
// encoder does.
func replaceLoneSurrogates(units []uint16) []uint16 {
	out := make([]uint16, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u >= 0xD800 && u < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000:
			out = append(out, u, units[i+1])
			i++
		case u >= 0xD800 && u < 0xE000:
			out = append(out, '?')
		default:
			out = append(out, u)
		}
	}
	return out
}

// decode implements new String(byte[], charset).
func decode(ctx *vm.Context, b []byte, charset string) (string, error) {
	switch strings.ToUpper(charset) {
	case "UTF-8", "UTF8":
		return strings.ToValidUTF8(string(b), string(utf8.RuneError)), nil
	case "ISO-8859-1", "ISO8859_1", "LATIN1":
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		return string(s), nil
	case "US-ASCII", "ASCII":
		units := make([]uint16, len(b))
		for i, c := range b {
			units[i] = uint16(c)
			if c >= 0x80 {
				units[i] = 0xFFFD
			}
		}
		return jstring.FromUTF16(units), nil
	}
	return "", vm.Throw(ctx, "java/io/UnsupportedEncodingException", charset)
}

// hashCode is String.hashCode over UTF-16 code units.
func hashCode(s string) int32 {
	var h int32
	for _, u := range jstring.UTF16(s) {
		h = 31*h + int32(u)
	}
	return h
}

func indexOf(units, sub []uint16, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(sub) <= len(units); i++ {
		match := true
		for j := range sub {
			if units[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func registerString(p *MappedMethodProvider) {
	self := func(c *vm.Call, ctx *vm.Context) (string, error) {
		return stringArg(ctx, c.Target)
	}
	p.registerAll(value.StringClass, map[string]MethodFunc{
		"<init>()V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return construct(c, ""), nil
		},
		"<init>(Ljava/lang/String;)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := stringArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return construct(c, s), nil
		},
		"<init>([C)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			units, err := charsArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return construct(c, jstring.FromUTF16(units)), nil
		},
		"<init>([CII)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			units, err := charsArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			off, _ := value.AsInt(c.Args[1])
			n, _ := value.AsInt(c.Args[2])
			if off < 0 || n < 0 || int(off)+int(n) > len(units) {
				return nil, rangeCheck(ctx, vm.StringIndexOutOfBounds, int(off), int(off)+int(n), len(units))
			}
			return construct(c, jstring.FromUTF16(units[off:off+n])), nil
		},
		"<init>([B)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bytesArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			s, err := decode(ctx, b, "UTF-8")
			if err != nil {
				return nil, err
			}
			return construct(c, s), nil
		},
		"<init>([BLjava/lang/String;)V": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			b, err := bytesArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			cs, err := stringArg(ctx, c.Args[1])
			if err != nil {
				return nil, err
			}
			s, err := decode(ctx, b, cs)
			if err != nil {
				return nil, err
			}
			return construct(c, s), nil
		},
		"length()I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			return value.Int(jstring.Length(s)), nil
		},
		"isEmpty()Z": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			return value.Boolean(s == ""), nil
		},
		"charAt(I)C": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			units := jstring.UTF16(s)
			i, _ := value.AsInt(c.Args[0])
			if i < 0 || int(i) >= len(units) {
				return nil, outOfBounds(ctx, vm.StringIndexOutOfBounds, int(i), len(units))
			}
			return value.Char(units[i]), nil
		},
		"toCharArray()[C": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			return charArray(jstring.UTF16(s)), nil
		},
		"getBytes()[B": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			b, err := encode(ctx, s, "UTF-8")
			if err != nil {
				return nil, err
			}
			return byteArray(b), nil
		},
		"getBytes(Ljava/lang/String;)[B": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			cs, err := stringArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			b, err := encode(ctx, s, cs)
			if err != nil {
				return nil, err
			}
			return byteArray(b), nil
		},
		"intern()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if _, err := self(c, ctx); err != nil {
				return nil, err
			}
			return c.Target, nil
		},
		"toString()Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			if _, err := self(c, ctx); err != nil {
				return nil, err
			}
			return c.Target, nil
		},
		"hashCode()I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			return value.Int(hashCode(s)), nil
		},
		"equals(Ljava/lang/Object;)Z": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			other, ok := value.StringOf(c.Args[0])
			return value.Boolean(ok && other == s), nil
		},
		"concat(Ljava/lang/String;)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			t, err := stringArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return str(s + t), nil
		},
		"substring(I)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			units := jstring.UTF16(s)
			begin, _ := value.AsInt(c.Args[0])
			if err := rangeCheck(ctx, vm.StringIndexOutOfBounds, int(begin), len(units), len(units)); err != nil {
				return nil, err
			}
			return str(jstring.FromUTF16(units[begin:])), nil
		},
		"substring(II)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			units := jstring.UTF16(s)
			begin, _ := value.AsInt(c.Args[0])
			end, _ := value.AsInt(c.Args[1])
			if err := rangeCheck(ctx, vm.StringIndexOutOfBounds, int(begin), int(end), len(units)); err != nil {
				return nil, err
			}
			return str(jstring.FromUTF16(units[begin:end])), nil
		},
		"indexOf(I)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			ch, _ := value.AsInt(c.Args[0])
			sub := []uint16{uint16(ch)}
			if ch > 0xFFFF {
				sub = jstring.UTF16(string(rune(ch)))
			}
			return value.Int(indexOf(jstring.UTF16(s), sub, 0)), nil
		},
		"indexOf(Ljava/lang/String;)I": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			s, err := self(c, ctx)
			if err != nil {
				return nil, err
			}
			sub, err := stringArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return value.Int(indexOf(jstring.UTF16(s), jstring.UTF16(sub), 0)), nil
		},
		"valueOf(Ljava/lang/Object;)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			return str(toJavaString(c.Args[0])), nil
		},
		"valueOf([C)Ljava/lang/String;": func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
			units, err := charsArg(ctx, c.Args[0])
			if err != nil {
				return nil, err
			}
			return str(jstring.FromUTF16(units)), nil
		},
	})
	for _, prim := range []string{"I", "J", "C", "Z", "F", "D"} {
		p.Register(Key(value.StringClass, "valueOf", "("+prim+")Ljava/lang/String;"),
			func(c *vm.Call, ctx *vm.Context) (value.Value, error) {
				return str(toJavaString(c.Args[0])), nil
			})
	}
}
