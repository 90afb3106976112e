package debug

import "fmt"

// DEBUG gates the compiler's chunk disassembly (the DEBUG_PRINT_CODE knob
// from the book this interpreter is based on) as well as the assertions
// below. VM dispatch tracing is not gated by it: the VM traces whenever the
// logrus debug level is enabled. It is a
// build-time constant rather than a flag: flipping it is a recompile,
// not a CLI option, matching how the teacher gates its own debug output.
const DEBUG = false

func Assertf(b bool, format string, a ...any) {
	if DEBUG && !b {
		panic(fmt.Sprintf(format, a...))
	}
}

func AssertEq[T comparable](expected, got T) { Assertf(expected == got, "%v != %v", expected, got) }
