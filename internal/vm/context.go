package vm

import (
	"io"

	"github.com/charmbracelet/log"

	"jdeobf/internal/insn"
	"jdeobf/internal/value"
)

// Default execution bounds.
const (
	DefaultMaxSteps = 1_000_000
	DefaultMaxDepth = 64

	// HardMaxDepth caps nesting whatever MaxDepth says. Interpreted calls
	// recurse on the Go stack, and a Go stack overflow cannot be recovered.
	HardMaxDepth = 4096
)

// MethodLookup resolves a method body by owner, name and descriptor.
type MethodLookup interface {
	LookupMethod(owner, name, desc string) (*insn.Method, bool)
}

// Hierarchy answers ancestor and descendant queries over loaded classes.
// Ancestors are ordered nearest first and include interfaces.
type Hierarchy interface {
	Ancestors(class string) []string
	Descendants(class string) []string
}

// Frame is one entry of the simulated call stack.
type Frame struct {
	Class  string
	Method string
	Desc   string
	// Index is the instruction currently executing.
	Index int
	// Constants counts constant-pool loads performed by this frame.
	Constants int
}

// CallStack is the stack of active interpreted methods, innermost last.
type CallStack struct {
	frames []*Frame
}

// Push enters a new frame.
func (s *CallStack) Push(f *Frame) {
	s.frames = append(s.frames, f)
}

// Pop leaves the innermost frame.
func (s *CallStack) Pop() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// Len returns the depth.
func (s *CallStack) Len() int {
	return len(s.frames)
}

// Top returns the innermost frame, or nil.
func (s *CallStack) Top() *Frame {
	return s.At(0)
}

// At returns the frame depth levels below the innermost one.
func (s *CallStack) At(depth int) *Frame {
	i := len(s.frames) - 1 - depth
	if i < 0 || i >= len(s.frames) {
		return nil
	}
	return s.frames[i]
}

// Frames returns a copy of the frames, innermost first, the order a stack
// trace lists them.
func (s *CallStack) Frames() []Frame {
	out := make([]Frame, 0, len(s.frames))
	for i := len(s.frames) - 1; i >= 0; i-- {
		out = append(out, *s.frames[i])
	}
	return out
}

// Context is the state of one top-level execution, threaded through every
// nested call.
type Context struct {
	Provider  *DelegatingProvider
	CallStack *CallStack
	Patches   value.Patches
	Hierarchy Hierarchy
	Logger    *log.Logger

	// MaxSteps bounds the instructions executed across all frames; 0 means
	// no bound.
	MaxSteps int
	// MaxDepth bounds nested calls; 0 or anything above HardMaxDepth
	// means HardMaxDepth.
	MaxDepth int
	// ConstantBudget bounds constant loads across all frames; 0 means no
	// bound.
	ConstantBudget int

	steps     int
	constants int
}

// Option configures a Context.
type Option func(*Context)

// WithProviders registers providers in order.
func WithProviders(providers ...Provider) Option {
	return func(c *Context) {
		c.Provider.Register(providers...)
	}
}

// WithPatches sets the constructor patch table.
func WithPatches(p value.Patches) Option {
	return func(c *Context) {
		c.Patches = p
	}
}

// WithHierarchy sets the class hierarchy used for exception matching.
func WithHierarchy(h Hierarchy) Option {
	return func(c *Context) {
		c.Hierarchy = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Context) {
		c.Logger = l
	}
}

// WithMaxSteps sets the instruction budget.
func WithMaxSteps(n int) Option {
	return func(c *Context) {
		c.MaxSteps = n
	}
}

// WithMaxDepth sets the call depth budget.
func WithMaxDepth(n int) Option {
	return func(c *Context) {
		c.MaxDepth = n
	}
}

// WithConstantBudget sets the constant load budget.
func WithConstantBudget(n int) Option {
	return func(c *Context) {
		c.ConstantBudget = n
	}
}

// NewContext returns a Context with an empty provider chain and default
// bounds.
func NewContext(opts ...Option) *Context {
	c := &Context{
		Provider:  NewDelegatingProvider(),
		CallStack: &CallStack{},
		Logger:    log.New(io.Discard),
		MaxSteps:  DefaultMaxSteps,
		MaxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Steps returns the number of instructions executed so far.
func (c *Context) Steps() int {
	return c.steps
}

// Constants returns the number of constant loads performed so far.
func (c *Context) Constants() int {
	return c.constants
}

// DepthLimit returns the effective nested call bound.
func (c *Context) DepthLimit() int {
	if c.MaxDepth <= 0 || c.MaxDepth > HardMaxDepth {
		return HardMaxDepth
	}
	return c.MaxDepth
}

// CallerClass returns the class of the frame depth levels below the
// innermost one, or "".
func (c *Context) CallerClass(depth int) string {
	if f := c.CallStack.At(depth); f != nil {
		return f.Class
	}
	return ""
}
