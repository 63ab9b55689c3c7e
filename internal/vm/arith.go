package vm

import (
	"math"

	"jdeobf/internal/insn"
	"jdeobf/internal/value"
)

// Floating point to integer conversions saturate and map NaN to zero.

func f2i(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func f2l(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// fcmp implements fcmpl/fcmpg and dcmpl/dcmpg; nan is the result when
// either operand is NaN.
func fcmp(a, b float64, nan int32) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return nan
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

func lcmp(a, b int64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

func intBinary(op insn.Opcode, a, b int32) (int32, bool) {
	switch op {
	case insn.IADD:
		return a + b, true
	case insn.ISUB:
		return a - b, true
	case insn.IMUL:
		return a * b, true
	case insn.IDIV:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case insn.IREM:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case insn.ISHL:
		return a << (uint32(b) & 31), true
	case insn.ISHR:
		return a >> (uint32(b) & 31), true
	case insn.IUSHR:
		return int32(uint32(a) >> (uint32(b) & 31)), true
	case insn.IAND:
		return a & b, true
	case insn.IOR:
		return a | b, true
	case insn.IXOR:
		return a ^ b, true
	}
	return 0, false
}

func longBinary(op insn.Opcode, a, b int64) (int64, bool) {
	switch op {
	case insn.LADD:
		return a + b, true
	case insn.LSUB:
		return a - b, true
	case insn.LMUL:
		return a * b, true
	case insn.LDIV:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case insn.LREM:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case insn.LAND:
		return a & b, true
	case insn.LOR:
		return a | b, true
	case insn.LXOR:
		return a ^ b, true
	}
	return 0, false
}

func longShift(op insn.Opcode, a int64, s int32) int64 {
	n := uint64(s) & 63
	switch op {
	case insn.LSHL:
		return a << n
	case insn.LSHR:
		return a >> n
	}
	return int64(uint64(a) >> n)
}

func floatBinary(op insn.Opcode, a, b float64) float64 {
	switch op {
	case insn.FADD, insn.DADD:
		return a + b
	case insn.FSUB, insn.DSUB:
		return a - b
	case insn.FMUL, insn.DMUL:
		return a * b
	case insn.FDIV, insn.DDIV:
		return a / b
	}
	return math.Mod(a, b)
}

// convert implements the primitive conversion opcodes i2l through i2s.
func convert(op insn.Opcode, v value.Value) (value.Value, error) {
	switch op {
	case insn.I2L, insn.I2F, insn.I2D, insn.I2B, insn.I2C, insn.I2S:
		i, err := value.AsInt(v)
		if err != nil {
			return nil, err
		}
		switch op {
		case insn.I2L:
			return value.Long(i), nil
		case insn.I2F:
			return value.Float(i), nil
		case insn.I2D:
			return value.Double(i), nil
		case insn.I2B:
			return value.Int(int8(i)), nil
		case insn.I2C:
			return value.Int(uint16(i)), nil
		}
		return value.Int(int16(i)), nil
	case insn.L2I, insn.L2F, insn.L2D:
		l, err := value.AsLong(v)
		if err != nil {
			return nil, err
		}
		switch op {
		case insn.L2I:
			return value.Int(int32(l)), nil
		case insn.L2F:
			return value.Float(l), nil
		}
		return value.Double(l), nil
	case insn.F2I, insn.F2L, insn.F2D:
		f, err := value.AsFloat(v)
		if err != nil {
			return nil, err
		}
		switch op {
		case insn.F2I:
			return value.Int(f2i(float64(f))), nil
		case insn.F2L:
			return value.Long(f2l(float64(f))), nil
		}
		return value.Double(f), nil
	case insn.D2I, insn.D2L, insn.D2F:
		d, err := value.AsDouble(v)
		if err != nil {
			return nil, err
		}
		switch op {
		case insn.D2I:
			return value.Int(f2i(d)), nil
		case insn.D2L:
			return value.Long(f2l(d)), nil
		}
		return value.Float(d), nil
	}
	return nil, ErrUnsupported
}
