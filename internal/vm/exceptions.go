package vm

import (
	"jdeobf/internal/value"
)

// Exception classes raised by the interpreter itself.
const (
	ArithmeticException        = "java/lang/ArithmeticException"
	NullPointerException       = "java/lang/NullPointerException"
	ArrayIndexOutOfBounds      = "java/lang/ArrayIndexOutOfBoundsException"
	NegativeArraySizeException = "java/lang/NegativeArraySizeException"
	ClassCastException         = "java/lang/ClassCastException"
	StringIndexOutOfBounds     = "java/lang/StringIndexOutOfBoundsException"
	IllegalArgumentException   = "java/lang/IllegalArgumentException"
	NumberFormatException      = "java/lang/NumberFormatException"
	UnsupportedOperation       = "java/lang/UnsupportedOperationException"
)

// jdkSuper is the superclass of the standard throwables, so handlers for
// library exceptions match without the JDK on the classpath.
var jdkSuper = map[string]string{
	"java/lang/Throwable":                       "java/lang/Object",
	"java/lang/Exception":                       "java/lang/Throwable",
	"java/lang/Error":                           "java/lang/Throwable",
	"java/lang/RuntimeException":                "java/lang/Exception",
	ArithmeticException:                         "java/lang/RuntimeException",
	NullPointerException:                        "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":       "java/lang/RuntimeException",
	ArrayIndexOutOfBounds:                       "java/lang/IndexOutOfBoundsException",
	StringIndexOutOfBounds:                      "java/lang/IndexOutOfBoundsException",
	NegativeArraySizeException:                  "java/lang/RuntimeException",
	ClassCastException:                          "java/lang/RuntimeException",
	"java/lang/ArrayStoreException":             "java/lang/RuntimeException",
	IllegalArgumentException:                    "java/lang/RuntimeException",
	NumberFormatException:                       IllegalArgumentException,
	"java/lang/IllegalStateException":           "java/lang/RuntimeException",
	UnsupportedOperation:                        "java/lang/RuntimeException",
	"java/lang/ReflectiveOperationException":    "java/lang/Exception",
	"java/lang/ClassNotFoundException":          "java/lang/ReflectiveOperationException",
	"java/lang/NoSuchMethodException":           "java/lang/ReflectiveOperationException",
	"java/lang/NoSuchFieldException":            "java/lang/ReflectiveOperationException",
	"java/lang/VirtualMachineError":             "java/lang/Error",
	"java/lang/StackOverflowError":              "java/lang/VirtualMachineError",
	"java/lang/LinkageError":                    "java/lang/Error",
	"java/lang/ExceptionInInitializerError":     "java/lang/LinkageError",
	"java/lang/UnsatisfiedLinkError":            "java/lang/LinkageError",
	"java/io/IOException":                       "java/lang/Exception",
	"java/io/UnsupportedEncodingException":      "java/io/IOException",
	"java/security/GeneralSecurityException":    "java/lang/Exception",
	"java/security/NoSuchAlgorithmException":    "java/security/GeneralSecurityException",
	"javax/crypto/BadPaddingException":          "java/security/GeneralSecurityException",
	"java/lang/invoke/WrongMethodTypeException": "java/lang/RuntimeException",
}

// JDKAncestors returns the standard library superclasses of class, nearest
// first.
func JDKAncestors(class string) []string {
	var out []string
	for c, ok := jdkSuper[class]; ok; c, ok = jdkSuper[c] {
		out = append(out, c)
	}
	return out
}

// IsAssignable reports whether an instance of class is an instance of
// target, using the exact name, the context hierarchy and the standard
// library throwable tree.
func IsAssignable(ctx *Context, class, target string) bool {
	if class == target || target == "java/lang/Object" {
		return true
	}
	check := func(c string) bool {
		for _, a := range JDKAncestors(c) {
			if a == target {
				return true
			}
		}
		return false
	}
	if check(class) {
		return true
	}
	if ctx != nil && ctx.Hierarchy != nil {
		for _, a := range ctx.Hierarchy.Ancestors(class) {
			if a == target || check(a) {
				return true
			}
		}
	}
	return false
}

// StackTraceElement is one frame of a captured stack trace.
type StackTraceElement struct {
	Class  string
	Method string
}

// Throwable is the native state of a simulated exception object.
type Throwable struct {
	Message    string
	Cause      value.Value
	StackTrace []StackTraceElement
}

// StackTrace captures the call stack, innermost frame first.
func (c *Context) StackTrace() []StackTraceElement {
	frames := c.CallStack.Frames()
	out := make([]StackTraceElement, len(frames))
	for i, f := range frames {
		out[i] = StackTraceElement{Class: f.Class, Method: f.Method}
	}
	return out
}

// NewThrowable builds an exception object of the given class with the
// current stack trace.
func NewThrowable(ctx *Context, class, msg string) *value.Object {
	return value.NewObject(class, &Throwable{Message: msg, StackTrace: ctx.StackTrace()})
}

// Throw returns a ThrownError for a new exception of the given class.
func Throw(ctx *Context, class, msg string) error {
	return &ThrownError{Thrown: NewThrowable(ctx, class, msg)}
}
