package jdk

import (
	"slices"
	"strings"

	"jdeobf/internal/value"
	"jdeobf/internal/vm"
)

// jdkInterfaces lists the interfaces of simulated library classes that
// decryptors test or cast against.
var jdkInterfaces = map[string][]string{
	value.StringClass:         {"java/lang/CharSequence", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/StringBuilder": {"java/lang/CharSequence", "java/lang/Appendable", "java/io/Serializable"},
	"java/lang/StringBuffer":  {"java/lang/CharSequence", "java/lang/Appendable", "java/io/Serializable"},
	"java/lang/Integer":       {"java/lang/Number", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Long":          {"java/lang/Number", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Short":         {"java/lang/Number", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Byte":          {"java/lang/Number", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Float":         {"java/lang/Number", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Double":        {"java/lang/Number", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Character":     {"java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Boolean":       {"java/lang/Comparable", "java/io/Serializable"},
	"java/lang/Throwable":     {"java/io/Serializable"},
}

// InstanceOf reports whether a non-null v is an instance of typ, an internal
// class name or array descriptor.
func InstanceOf(ctx *vm.Context, v value.Value, typ string) bool {
	if value.IsNull(v) {
		return false
	}
	return assignable(ctx, v.TypeName(), typ)
}

func assignable(ctx *vm.Context, class, typ string) bool {
	if class == typ || typ == "java/lang/Object" {
		return true
	}
	if strings.HasPrefix(class, "[") {
		if typ == "java/lang/Cloneable" || typ == "java/io/Serializable" {
			return true
		}
		if !strings.HasPrefix(typ, "[") {
			return false
		}
		ce, te := class[1:], typ[1:]
		if !strings.HasPrefix(ce, "L") && !strings.HasPrefix(ce, "[") ||
			!strings.HasPrefix(te, "L") && !strings.HasPrefix(te, "[") {
			// primitive component types must match exactly
			return false
		}
		return assignable(ctx, elementName(ce), elementName(te))
	}
	if vm.IsAssignable(ctx, class, typ) {
		return true
	}
	candidates := append([]string{class}, vm.JDKAncestors(class)...)
	if ctx != nil && ctx.Hierarchy != nil {
		candidates = append(candidates, ctx.Hierarchy.Ancestors(class)...)
	}
	for _, c := range candidates {
		if slices.Contains(jdkInterfaces[c], typ) {
			return true
		}
	}
	return false
}

// elementName turns an array component descriptor into the form type
// checks use: internal names for classes, descriptors for nested arrays.
func elementName(desc string) string {
	if strings.HasPrefix(desc, "L") {
		return strings.TrimSuffix(desc[1:], ";")
	}
	return desc
}

// StandardComparison answers instanceof and checkcast from the class
// hierarchy and the library interface table, and compares references by
// identity.
type StandardComparison struct {
	vm.ComparisonProvider
}

func (StandardComparison) CanCheckInstanceOf(v value.Value, typ string, ctx *vm.Context) bool {
	return true
}

func (StandardComparison) CheckInstanceOf(v value.Value, typ string, ctx *vm.Context) (bool, error) {
	return InstanceOf(ctx, v, typ), nil
}

func (StandardComparison) CanCheckcast(v value.Value, typ string, ctx *vm.Context) bool {
	return true
}

func (StandardComparison) Checkcast(v value.Value, typ string, ctx *vm.Context) (bool, error) {
	return value.IsNull(v) || InstanceOf(ctx, v, typ), nil
}

func (StandardComparison) CanCheckEquality(a, b value.Value, ctx *vm.Context) bool {
	return a.Kind().IsReference() && b.Kind().IsReference()
}

func (StandardComparison) CheckEquality(a, b value.Value, ctx *vm.Context) (bool, error) {
	if value.IsNull(a) || value.IsNull(b) {
		return value.IsNull(a) && value.IsNull(b), nil
	}
	return a == b, nil
}
