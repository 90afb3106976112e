package vm

import (
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	e "github.com/rami3l/golox/errors"
	"github.com/sirupsen/logrus"
)

// VM is a stack-based bytecode interpreter. Its globals table persists
// across Interpret calls, so a REPL session accumulates definitions.
type VM struct {
	chunk   *Chunk
	ip      int
	stack   []Value
	globals map[string]Value
}

func NewVM() *VM { return &VM{globals: map[string]Value{}} }

func (vm *VM) push(val Value) { vm.stack = append(vm.stack, val) }

func (vm *VM) pop() (last Value) {
	len_ := len(vm.stack)
	vm.stack, last = vm.stack[:len_-1], vm.stack[len_-1]
	return
}

func (vm *VM) peek(distance int) Value { return vm.stack[len(vm.stack)-1-distance] }

// REPL reads one line of input at a time and interprets each as a
// complete program against this VM, so that `var` declarations and
// assignments from earlier lines stay visible to later ones. It returns
// nil on a clean EOF.
func (vm *VM) REPL() error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, readline.ErrInterrupt):
			return nil
		case err != nil:
			return err
		}
		if err := vm.Interpret(line + "\n"); err != nil {
			fmt.Println(err)
		}
	}
}

// Interpret compiles src into a fresh Chunk and, if compilation succeeds,
// runs it. A compile error short-circuits before anything executes.
func (vm *VM) Interpret(src string) error {
	parser := NewParser()
	chunk, err := parser.Compile(src)
	if err != nil {
		return err
	}
	vm.chunk = chunk
	vm.ip = 0
	vm.stack = nil
	return vm.run()
}

func (vm *VM) run() error {
	readByte := func() (res byte) {
		res = vm.chunk.code[vm.ip]
		vm.ip++
		return
	}

	binaryNumOp := func(op func(Value, Value) (Value, bool), errMsg string) error {
		rhs, lhs := vm.pop(), vm.pop()
		res, ok := op(lhs, rhs)
		if !ok {
			return vm.runtimeErr(errMsg)
		}
		vm.push(res)
		return nil
	}

	for {
		oldIP := vm.ip
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.Debugln(vm.stackTrace())
			instDump, _ := vm.chunk.DisassembleInst(oldIP)
			logrus.Debugln(instDump)
		}

		switch inst := OpCode(readByte()); inst {
		case OpConst:
			vm.push(vm.chunk.consts[readByte()])
		case OpNil:
			vm.push(VNil{})
		case OpTrue:
			vm.push(VBool(true))
		case OpFalse:
			vm.push(VBool(false))
		case OpPop:
			vm.pop()

		case OpGetLocal:
			vm.push(vm.stack[readByte()])
		case OpSetLocal:
			vm.stack[readByte()] = vm.peek(0)

		case OpGetGlobal:
			name := string(vm.chunk.consts[readByte()].(VStr))
			val, ok := vm.globals[name]
			if !ok {
				return vm.runtimeErrAt(oldIP, fmt.Sprintf("Undefined variable '%s'.", name))
			}
			vm.push(val)
		case OpDefGlobal:
			name := string(vm.chunk.consts[readByte()].(VStr))
			vm.globals[name] = vm.pop()
		case OpSetGlobal:
			name := string(vm.chunk.consts[readByte()].(VStr))
			if _, ok := vm.globals[name]; !ok {
				return vm.runtimeErrAt(oldIP, fmt.Sprintf("Undefined variable '%s'.", name))
			}
			vm.globals[name] = vm.peek(0)

		case OpEqual:
			rhs, lhs := vm.pop(), vm.pop()
			vm.push(VEq(lhs, rhs))
		case OpGreater:
			if err := binaryNumOp(VGreater, "Operands must be numbers."); err != nil {
				return err
			}
		case OpLess:
			if err := binaryNumOp(VLess, "Operands must be numbers."); err != nil {
				return err
			}
		case OpNot:
			vm.push(!VTruthy(vm.pop()))
		case OpNeg:
			val, ok := VNeg(vm.pop())
			if !ok {
				return vm.runtimeErrAt(oldIP, "Operand must be a number.")
			}
			vm.push(val)

		case OpAdd:
			if err := binaryNumOp(VAdd, "Operands must be two numbers or two strings."); err != nil {
				return err
			}
		case OpSub:
			if err := binaryNumOp(VSub, "Operands must be numbers."); err != nil {
				return err
			}
		case OpMul:
			if err := binaryNumOp(VMul, "Operands must be numbers."); err != nil {
				return err
			}
		case OpDiv:
			if err := binaryNumOp(VDiv, "Operands must be numbers."); err != nil {
				return err
			}

		case OpPrint:
			fmt.Printf("%s\n", vm.pop())

		case OpReturn:
			return nil

		default:
			return vm.runtimeErrAt(oldIP, fmt.Sprintf("Unknown instruction '%d'.", inst))
		}
	}
}

func (vm *VM) runtimeErr(reason string) error { return vm.runtimeErrAt(vm.ip-1, reason) }

func (vm *VM) runtimeErrAt(offset int, reason string) error {
	return &e.RuntimeError{Line: vm.chunk.lines[offset], Reason: reason}
}

func (vm *VM) stackTrace() string {
	res := "          "
	for _, slot := range vm.stack {
		res += fmt.Sprintf("[ %s ]", slot)
	}
	return res
}
