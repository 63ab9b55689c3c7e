package vm

import (
	"errors"
	"fmt"
	"slices"

	"jdeobf/internal/descriptor"
	"jdeobf/internal/insn"
	"jdeobf/internal/value"
)

// fault aborts the instruction loop on conditions the interpreted program
// cannot catch: stack underflow, type confusion, malformed code.
type fault struct {
	err error
}

type frame struct {
	ctx    *Context
	m      *insn.Method
	info   *Frame
	ret    descriptor.Type
	stack  []value.Value
	locals []value.Value
	pc     int

	done   bool
	result value.Value
}

// Execute runs m with the given arguments and receiver (nil for static
// methods) until it returns, throws or is aborted. Any outcome other than a
// normal return is an *ExecutionError naming m; use StateOf to classify it.
// A void method returns a nil value.
func Execute(ctx *Context, m *insn.Method, args []value.Value, instance value.Value) (value.Value, error) {
	fail := func(state State, cause error) error {
		return &ExecutionError{Class: m.Owner, Method: m.Name, Desc: m.Desc, State: state, Cause: cause}
	}
	if limit := ctx.DepthLimit(); ctx.CallStack.Len() >= limit {
		return nil, fail(Aborted, &AbortError{Reason: fmt.Sprintf("call depth %d exceeded", limit)})
	}

	f, err := newFrame(ctx, m, args, instance)
	if err != nil {
		return nil, fail(Threw, err)
	}
	ctx.CallStack.Push(f.info)
	defer ctx.CallStack.Pop()

	result, err := f.run()
	if err != nil {
		state := Threw
		var ae *AbortError
		if errors.As(err, &ae) {
			state = Aborted
		}
		ctx.Logger.Debug("execution ended", "method", m.String(), "state", state, "err", err)
		return nil, fail(state, err)
	}
	return result, nil
}

func newFrame(ctx *Context, m *insn.Method, args []value.Value, instance value.Value) (*frame, error) {
	if !m.HasCode() {
		return nil, fmt.Errorf("%s has no code: %w", m, ErrUnsupported)
	}
	types, err := m.ArgumentTypes()
	if err != nil {
		return nil, err
	}
	ret, err := m.ReturnType()
	if err != nil {
		return nil, err
	}
	if len(args) != len(types) {
		return nil, fmt.Errorf("got %d arguments, want %d", len(args), len(types))
	}
	size, err := descriptor.ArgumentsSize(m.Desc, m.IsStatic())
	if err != nil {
		return nil, err
	}

	f := &frame{
		ctx:    ctx,
		m:      m,
		info:   &Frame{Class: m.Owner, Method: m.Name, Desc: m.Desc},
		ret:    ret,
		locals: make([]value.Value, max(m.MaxLocals, size)),
	}
	slot := 0
	if !m.IsStatic() {
		if instance == nil {
			instance = value.Null
		}
		f.locals[0] = instance
		slot = 1
	}
	for i, t := range types {
		v := args[i]
		if v == nil {
			v = value.Null
		}
		if t.Sort.IsPrimitive() {
			if v, err = value.As(v, t); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
		}
		f.locals[slot] = v
		slot += t.Size()
	}
	return f, nil
}

func (f *frame) run() (result value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if flt, ok := r.(fault); ok {
				err = &InstructionError{Index: f.info.Index, Op: f.m.Instructions[f.info.Index].Op.String(), Err: flt.err}
				return
			}
			err = fmt.Errorf("panic at instruction %d: %v", f.info.Index, r)
		}
	}()

	code := f.m.Instructions
	for f.pc < len(code) {
		in := code[f.pc]
		if in.Op.IsPseudo() {
			f.pc++
			continue
		}
		f.ctx.steps++
		if f.ctx.MaxSteps > 0 && f.ctx.steps > f.ctx.MaxSteps {
			return nil, &AbortError{Reason: fmt.Sprintf("instruction budget %d exceeded", f.ctx.MaxSteps)}
		}
		at := f.pc
		f.info.Index = at
		f.pc++

		if err := f.step(in); err != nil {
			thrown, ok := Thrown(err)
			if !ok {
				return nil, &InstructionError{Index: at, Op: in.Op.String(), Err: err}
			}
			if !f.handle(thrown, at) {
				return nil, err
			}
			continue
		}
		if f.done {
			return f.result, nil
		}
	}
	return nil, fmt.Errorf("execution fell off the end of %s", f.m)
}

// handle transfers control to the first exception handler covering at that
// accepts thrown.
func (f *frame) handle(thrown value.Value, at int) bool {
	for _, tc := range f.m.TryCatch {
		start, ok1 := f.m.LabelIndex(tc.Start)
		end, ok2 := f.m.LabelIndex(tc.End)
		handler, ok3 := f.m.LabelIndex(tc.Handler)
		if !ok1 || !ok2 || !ok3 || at <= start || at >= end {
			continue
		}
		if tc.Type != "" && !IsAssignable(f.ctx, thrown.TypeName(), tc.Type) {
			continue
		}
		f.ctx.Logger.Debug("exception caught", "method", f.m.String(), "type", thrown.TypeName(), "handler", handler)
		f.stack = append(f.stack[:0], thrown)
		f.pc = handler
		return true
	}
	return false
}

func (f *frame) faultf(format string, args ...any) {
	panic(fault{err: fmt.Errorf(format, args...)})
}

func (f *frame) check(err error) {
	if err != nil {
		panic(fault{err: err})
	}
}

func (f *frame) push(v value.Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() value.Value {
	if len(f.stack) == 0 {
		f.faultf("operand stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) peek(depth int) value.Value {
	if depth >= len(f.stack) {
		f.faultf("operand stack underflow")
	}
	return f.stack[len(f.stack)-1-depth]
}

func (f *frame) popInt() int32 {
	i, err := value.AsInt(f.pop())
	f.check(err)
	return i
}

func (f *frame) popLong() int64 {
	l, err := value.AsLong(f.pop())
	f.check(err)
	return l
}

func (f *frame) popFloat() float32 {
	v, err := value.AsFloat(f.pop())
	f.check(err)
	return v
}

func (f *frame) popDouble() float64 {
	v, err := value.AsDouble(f.pop())
	f.check(err)
	return v
}

// popSlots pops n stack words, bottom first. A long or double occupies two
// words and is represented as the value followed by nil.
func (f *frame) popSlots(n int) []value.Value {
	var out []value.Value
	count := 0
	for count < n {
		v := f.pop()
		if value.IsWide(v) {
			out = append(out, nil, v)
			count += 2
		} else {
			out = append(out, v)
			count++
		}
	}
	if count != n {
		f.faultf("stack operation splits a long or double")
	}
	slices.Reverse(out)
	return out
}

func (f *frame) pushSlots(groups ...[]value.Value) {
	for _, g := range groups {
		for _, v := range g {
			if v != nil {
				f.push(v)
			}
		}
	}
}

func (f *frame) load(slot int) value.Value {
	if slot < 0 || slot >= len(f.locals) || f.locals[slot] == nil {
		f.faultf("read of unset local %d", slot)
	}
	return f.locals[slot]
}

func (f *frame) store(slot int, v value.Value) {
	width := 1
	if value.IsWide(v) {
		width = 2
	}
	for slot+width > len(f.locals) {
		f.locals = append(f.locals, nil)
	}
	if slot > 0 && f.locals[slot-1] != nil && value.IsWide(f.locals[slot-1]) {
		f.locals[slot-1] = nil
	}
	f.locals[slot] = v
	if width == 2 {
		f.locals[slot+1] = nil
	}
}

func (f *frame) jump(label int) {
	idx, ok := f.m.LabelIndex(label)
	if !ok {
		f.faultf("jump to unknown label L%d", label)
	}
	f.pc = idx
}

func (f *frame) throw(class, format string, args ...any) error {
	return Throw(f.ctx, class, fmt.Sprintf(format, args...))
}

// replace swaps every reference to a constructed allocation for the
// initialized object.
func (f *frame) replace(u *value.Uninitialized, obj *value.Object) {
	for i, v := range f.stack {
		if v == value.Value(u) {
			f.stack[i] = obj
		}
	}
	for i, v := range f.locals {
		if v == value.Value(u) {
			f.locals[i] = obj
		}
	}
}

func compare(k int, a, b int32) bool {
	switch k {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

func boolInt(b bool) value.Value {
	if b {
		return value.Int(1)
	}
	return value.Int(0)
}

func (f *frame) step(in *insn.Instruction) error {
	op := in.Op
	switch {
	case op == insn.NOP:
	case op == insn.ACONST_NULL:
		f.push(value.Null)
	case op >= insn.ICONST_M1 && op <= insn.ICONST_5:
		f.push(value.Int(op - insn.ICONST_0))
	case op == insn.LCONST_0 || op == insn.LCONST_1:
		f.push(value.Long(op - insn.LCONST_0))
	case op >= insn.FCONST_0 && op <= insn.FCONST_2:
		f.push(value.Float(op - insn.FCONST_0))
	case op == insn.DCONST_0 || op == insn.DCONST_1:
		f.push(value.Double(op - insn.DCONST_0))
	case op == insn.BIPUSH || op == insn.SIPUSH:
		f.push(value.Int(in.Operand))
	case op == insn.LDC:
		return f.ldc(in)

	case op >= insn.ILOAD && op <= insn.ALOAD:
		f.push(f.load(in.Var))
	case op >= insn.ISTORE && op <= insn.ASTORE:
		f.store(in.Var, f.pop())
	case op >= insn.IALOAD && op <= insn.SALOAD:
		return f.arrayLoad()
	case op >= insn.IASTORE && op <= insn.SASTORE:
		return f.arrayStore()

	case op == insn.POP:
		f.popSlots(1)
	case op == insn.POP2:
		f.popSlots(2)
	case op == insn.DUP:
		s := f.popSlots(1)
		f.pushSlots(s, s)
	case op == insn.DUP_X1:
		s1, s2 := f.popSlots(1), f.popSlots(1)
		f.pushSlots(s1, s2, s1)
	case op == insn.DUP_X2:
		s1, s2 := f.popSlots(1), f.popSlots(2)
		f.pushSlots(s1, s2, s1)
	case op == insn.DUP2:
		s := f.popSlots(2)
		f.pushSlots(s, s)
	case op == insn.DUP2_X1:
		s1, s2 := f.popSlots(2), f.popSlots(1)
		f.pushSlots(s1, s2, s1)
	case op == insn.DUP2_X2:
		s1, s2 := f.popSlots(2), f.popSlots(2)
		f.pushSlots(s1, s2, s1)
	case op == insn.SWAP:
		s1, s2 := f.popSlots(1), f.popSlots(1)
		f.pushSlots(s1, s2)

	case op >= insn.IADD && op <= insn.DREM:
		return f.arith(op)
	case op == insn.INEG:
		f.push(value.Int(-f.popInt()))
	case op == insn.LNEG:
		f.push(value.Long(-f.popLong()))
	case op == insn.FNEG:
		f.push(value.Float(-f.popFloat()))
	case op == insn.DNEG:
		f.push(value.Double(-f.popDouble()))
	case op == insn.ISHL || op == insn.ISHR || op == insn.IUSHR,
		op == insn.IAND || op == insn.IOR || op == insn.IXOR:
		b, a := f.popInt(), f.popInt()
		r, _ := intBinary(op, a, b)
		f.push(value.Int(r))
	case op == insn.LSHL || op == insn.LSHR || op == insn.LUSHR:
		s, a := f.popInt(), f.popLong()
		f.push(value.Long(longShift(op, a, s)))
	case op == insn.LAND || op == insn.LOR || op == insn.LXOR:
		b, a := f.popLong(), f.popLong()
		r, _ := longBinary(op, a, b)
		f.push(value.Long(r))
	case op == insn.IINC:
		i, err := value.AsInt(f.load(in.Var))
		f.check(err)
		f.store(in.Var, value.Int(i+int32(in.Operand)))
	case op >= insn.I2L && op <= insn.I2S:
		v, err := convert(op, f.pop())
		f.check(err)
		f.push(v)

	case op == insn.LCMP:
		b, a := f.popLong(), f.popLong()
		f.push(value.Int(lcmp(a, b)))
	case op == insn.FCMPL || op == insn.FCMPG:
		b, a := f.popFloat(), f.popFloat()
		nan := int32(-1)
		if op == insn.FCMPG {
			nan = 1
		}
		f.push(value.Int(fcmp(float64(a), float64(b), nan)))
	case op == insn.DCMPL || op == insn.DCMPG:
		b, a := f.popDouble(), f.popDouble()
		nan := int32(-1)
		if op == insn.DCMPG {
			nan = 1
		}
		f.push(value.Int(fcmp(a, b, nan)))

	case op >= insn.IFEQ && op <= insn.IFLE:
		if compare(int(op-insn.IFEQ), f.popInt(), 0) {
			f.jump(in.Label)
		}
	case op >= insn.IF_ICMPEQ && op <= insn.IF_ICMPLE:
		b, a := f.popInt(), f.popInt()
		if compare(int(op-insn.IF_ICMPEQ), a, b) {
			f.jump(in.Label)
		}
	case op == insn.IF_ACMPEQ || op == insn.IF_ACMPNE:
		b, a := f.peek(0), f.peek(1)
		eq, err := f.ctx.Provider.CheckEquality(a, b, f.ctx)
		if err != nil {
			return err
		}
		f.popSlots(2)
		if eq == (op == insn.IF_ACMPEQ) {
			f.jump(in.Label)
		}
	case op == insn.IFNULL || op == insn.IFNONNULL:
		if value.IsNull(f.pop()) == (op == insn.IFNULL) {
			f.jump(in.Label)
		}
	case op == insn.GOTO:
		f.jump(in.Label)
	case op == insn.TABLESWITCH:
		k := f.popInt()
		if off := int64(k) - int64(in.Min); k >= in.Min && k <= in.Max && off < int64(len(in.Labels)) {
			f.jump(in.Labels[off])
		} else {
			f.jump(in.Default)
		}
	case op == insn.LOOKUPSWITCH:
		k := f.popInt()
		if i := slices.Index(in.Keys, k); i >= 0 && i < len(in.Labels) {
			f.jump(in.Labels[i])
		} else {
			f.jump(in.Default)
		}

	case op == insn.RETURN:
		f.done, f.result = true, nil
	case op.IsReturn():
		v := f.pop()
		if f.ret.Sort.IsPrimitive() {
			cv, err := value.As(v, f.ret)
			f.check(err)
			v = cv
		}
		f.done, f.result = true, v

	case op.IsField():
		return f.field(in)
	case op == insn.INVOKEDYNAMIC:
		return fmt.Errorf("invokedynamic %s%s: %w", in.Name, in.Desc, ErrUnsupported)
	case op.IsInvoke():
		return f.invoke(in)
	case op == insn.JSR || op == insn.RET:
		return fmt.Errorf("%s: %w", op, ErrUnsupported)

	case op == insn.NEW:
		f.push(value.NewUninitialized(in.Owner))
	case op == insn.NEWARRAY:
		desc, ok := insn.NewArrayDescriptor(in.Operand)
		if !ok {
			f.faultf("bad newarray type %d", in.Operand)
		}
		return f.newArray(desc, []int32{f.popInt()})
	case op == insn.ANEWARRAY:
		return f.newArray("["+descriptor.ObjectOf(in.Owner).Desc, []int32{f.popInt()})
	case op == insn.MULTIANEWARRAY:
		counts := make([]int32, in.Operand)
		for i := len(counts) - 1; i >= 0; i-- {
			counts[i] = f.popInt()
		}
		return f.newArray(in.Desc, counts)
	case op == insn.ARRAYLENGTH:
		ref := f.pop()
		if value.IsNull(ref) {
			return f.throw(NullPointerException, "array length of null")
		}
		arr, ok := ref.(*value.Array)
		if !ok {
			f.faultf("arraylength on %s", ref.TypeName())
		}
		f.push(value.Int(arr.Len()))
	case op == insn.ATHROW:
		v := f.pop()
		if value.IsNull(v) {
			return f.throw(NullPointerException, "throw of null")
		}
		return &ThrownError{Thrown: v}
	case op == insn.CHECKCAST:
		v := f.peek(0)
		if value.IsNull(v) {
			return nil
		}
		ok, err := f.ctx.Provider.Checkcast(v, in.Owner, f.ctx)
		if err != nil {
			return err
		}
		if !ok {
			return f.throw(ClassCastException, "class %s cannot be cast to class %s", v.TypeName(), in.Owner)
		}
	case op == insn.INSTANCEOF:
		v := f.peek(0)
		if value.IsNull(v) {
			f.pop()
			f.push(value.Int(0))
			return nil
		}
		ok, err := f.ctx.Provider.CheckInstanceOf(v, in.Owner, f.ctx)
		if err != nil {
			return err
		}
		f.pop()
		f.push(boolInt(ok))
	case op == insn.MONITORENTER || op == insn.MONITOREXIT:
		if value.IsNull(f.pop()) {
			return f.throw(NullPointerException, "monitor on null")
		}
	default:
		f.faultf("unknown opcode %d", int(op))
	}
	return nil
}

func (f *frame) arith(op insn.Opcode) error {
	switch (op - insn.IADD) % 4 {
	case 0:
		b, a := f.popInt(), f.popInt()
		r, ok := intBinary(op, a, b)
		if !ok {
			return f.throw(ArithmeticException, "/ by zero")
		}
		f.push(value.Int(r))
	case 1:
		b, a := f.popLong(), f.popLong()
		r, ok := longBinary(op, a, b)
		if !ok {
			return f.throw(ArithmeticException, "/ by zero")
		}
		f.push(value.Long(r))
	case 2:
		b, a := f.popFloat(), f.popFloat()
		f.push(value.Float(floatBinary(op, float64(a), float64(b))))
	default:
		b, a := f.popDouble(), f.popDouble()
		f.push(value.Double(floatBinary(op, a, b)))
	}
	return nil
}

func (f *frame) ldc(in *insn.Instruction) error {
	f.info.Constants++
	f.ctx.constants++
	if f.ctx.ConstantBudget > 0 && f.ctx.constants > f.ctx.ConstantBudget {
		return &AbortError{Reason: fmt.Sprintf("constant budget %d exceeded", f.ctx.ConstantBudget)}
	}
	switch c := in.Const.(type) {
	case int32:
		f.push(value.Int(c))
	case int64:
		f.push(value.Long(c))
	case float32:
		f.push(value.Float(c))
	case float64:
		f.push(value.Double(c))
	case string:
		f.push(value.NewString(c))
	case descriptor.Type:
		if c.Sort == descriptor.Method {
			f.push(value.NewObject("java/lang/invoke/MethodType", c.Desc))
		} else {
			f.push(value.ValueOf(value.ClassHandle{Name: c.InternalName()}))
		}
	case insn.Handle:
		f.push(value.ValueOf(value.MethodHandle{Kind: c.Kind, Owner: c.Owner, Name: c.Name, Desc: c.Desc}))
	default:
		return fmt.Errorf("ldc %s: %w", insn.FormatConstant(in.Const), ErrUnsupported)
	}
	return nil
}

func (f *frame) arrayOperand(ref value.Value, idx int32) (*value.Array, error) {
	if value.IsNull(ref) {
		return nil, f.throw(NullPointerException, "array access on null")
	}
	arr, ok := ref.(*value.Array)
	if !ok {
		f.faultf("array access on %s", ref.TypeName())
	}
	if idx < 0 || int(idx) >= arr.Len() {
		return nil, f.throw(ArrayIndexOutOfBounds, "Index %d out of bounds for length %d", idx, arr.Len())
	}
	return arr, nil
}

func (f *frame) arrayLoad() error {
	idx := f.popInt()
	arr, err := f.arrayOperand(f.pop(), idx)
	if err != nil {
		return err
	}
	f.push(arr.Get(int(idx)))
	return nil
}

func (f *frame) arrayStore() error {
	v := f.pop()
	idx := f.popInt()
	arr, err := f.arrayOperand(f.pop(), idx)
	if err != nil {
		return err
	}
	if et := arr.ElementType(); et.Sort.IsPrimitive() {
		cv, err := value.As(v, et)
		f.check(err)
		v = cv
	}
	arr.Set(int(idx), v)
	return nil
}

func (f *frame) newArray(desc string, counts []int32) error {
	for _, n := range counts {
		if n < 0 {
			return f.throw(NegativeArraySizeException, "%d", n)
		}
	}
	arr, err := multiArray(desc, counts)
	f.check(err)
	f.push(arr)
	return nil
}

func multiArray(desc string, counts []int32) (*value.Array, error) {
	a, err := value.NewArray(desc, int(counts[0]))
	if err != nil {
		return nil, err
	}
	if len(counts) > 1 {
		for i := range a.Len() {
			sub, err := multiArray(desc[1:], counts[1:])
			if err != nil {
				return nil, err
			}
			a.Set(i, sub)
		}
	}
	return a, nil
}

// normalize adapts a provider result to the declared type.
func (f *frame) normalize(v value.Value, t descriptor.Type) value.Value {
	if v == nil {
		if t.Sort.IsPrimitive() {
			f.faultf("provider returned no value for %s", t)
		}
		return value.Null
	}
	if t.Sort.IsPrimitive() {
		cv, err := value.As(v, t)
		f.check(err)
		return cv
	}
	return v
}

func (f *frame) field(in *insn.Instruction) error {
	t, err := descriptor.Parse(in.Desc)
	f.check(err)
	c := &Call{Op: in.Op, Owner: in.Owner, Name: in.Name, Desc: in.Desc}

	switch in.Op {
	case insn.GETSTATIC:
		v, err := f.ctx.Provider.GetField(c, f.ctx)
		if err != nil {
			return err
		}
		f.push(f.normalize(v, t))
	case insn.PUTSTATIC:
		v := f.normalize(f.peek(0), t)
		if err := f.ctx.Provider.PutField(c, v, f.ctx); err != nil {
			return err
		}
		f.pop()
	case insn.GETFIELD:
		c.Target = f.peek(0)
		if value.IsNull(c.Target) {
			return f.throw(NullPointerException, "get field %s on null", in.Name)
		}
		v, err := f.ctx.Provider.GetField(c, f.ctx)
		if err != nil {
			return err
		}
		f.pop()
		f.push(f.normalize(v, t))
	case insn.PUTFIELD:
		v := f.normalize(f.peek(0), t)
		c.Target = f.peek(1)
		if value.IsNull(c.Target) {
			return f.throw(NullPointerException, "put field %s on null", in.Name)
		}
		if err := f.ctx.Provider.PutField(c, v, f.ctx); err != nil {
			return err
		}
		f.pop()
		f.pop()
	}
	return nil
}

func (f *frame) invoke(in *insn.Instruction) error {
	types, err := descriptor.ArgumentTypes(in.Desc)
	f.check(err)
	ret, err := descriptor.ReturnType(in.Desc)
	f.check(err)

	need := len(types)
	if in.Op != insn.INVOKESTATIC {
		need++
	}
	if len(f.stack) < need {
		f.faultf("operand stack underflow invoking %s.%s%s", in.Owner, in.Name, in.Desc)
	}
	base := len(f.stack) - need
	args := slices.Clone(f.stack[len(f.stack)-len(types):])
	for i, t := range types {
		if t.Sort.IsPrimitive() {
			cv, err := value.As(args[i], t)
			f.check(err)
			args[i] = cv
		}
	}

	c := &Call{Op: in.Op, Owner: in.Owner, Name: in.Name, Desc: in.Desc, Args: args}
	if in.Op != insn.INVOKESTATIC {
		c.Target = f.stack[base]
		if value.IsNull(c.Target) {
			return f.throw(NullPointerException, "invoke %s.%s on null", in.Owner, in.Name)
		}
	}

	res, err := f.ctx.Provider.InvokeMethod(c, f.ctx)
	if err != nil {
		return err
	}
	f.stack = f.stack[:base]

	if u, ok := c.Target.(*value.Uninitialized); ok && in.Name == "<init>" {
		obj := u.Object()
		if obj == nil {
			var native any
			if res != nil {
				native = res.Native()
			}
			obj, err = u.Initialize(native, f.ctx.Patches)
			f.check(err)
		}
		f.replace(u, obj)
		return nil
	}
	if ret.Sort != descriptor.Void {
		f.push(f.normalize(res, ret))
	}
	return nil
}
