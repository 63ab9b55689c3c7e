package jdk

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"jdeobf/internal/jstring"
	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

// javaFloat renders a float the way Double.toString and Float.toString do:
// plain decimal in [1e-3, 1e7), computerized scientific notation otherwise,
// always with a fractional digit.
func javaFloat(d float64, bits int) string {
	switch {
	case math.IsNaN(d):
		return "NaN"
	case math.IsInf(d, 1):
		return "Infinity"
	case math.IsInf(d, -1):
		return "-Infinity"
	case d == 0:
		if math.Signbit(d) {
			return "-0.0"
		}
		return "0.0"
	}
	if abs := math.Abs(d); abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(d, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(d, 'e', -1, bits), "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	n, _ := strconv.Atoi(exp)
	return mant + "E" + strconv.Itoa(n)
}

// dotted converts an internal class name to its binary name.
func dotted(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

func identity(v value.Value) string {
	return strings.TrimPrefix(fmt.Sprintf("%p", v), "0x")
}

// toJavaString is String.valueOf(Object) over simulated values.
func toJavaString(v value.Value) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case value.Boolean:
		return strconv.FormatBool(bool(v))
	case value.Char:
		return jstring.FromUTF16([]uint16{uint16(v)})
	case value.Byte:
		return strconv.Itoa(int(v))
	case value.Short:
		return strconv.Itoa(int(v))
	case value.Int:
		return strconv.Itoa(int(v))
	case value.Long:
		return strconv.FormatInt(int64(v), 10)
	case value.Float:
		return javaFloat(float64(v), 32)
	case value.Double:
		return javaFloat(float64(v), 64)
	case *value.Object:
		switch n := v.Native().(type) {
		case string:
			return n
		case *stringBuffer:
			return jstring.FromUTF16(n.units)
		case *vm.Throwable:
			if n.Message == "" {
				return dotted(v.TypeName())
			}
			return dotted(v.TypeName()) + ": " + n.Message
		case value.ClassHandle:
			return "class " + dotted(n.Name)
		}
		if _, ok := value.WrapperSort(v.TypeName()); ok {
			return toJavaString(value.ValueOf(v.Native()))
		}
		return dotted(v.TypeName()) + "@" + identity(v)
	}
	if value.IsNull(v) {
		return "null"
	}
	return v.TypeName() + "@" + identity(v)
}
