package vm_test

import (
	"io"
	"os"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/rami3l/golox/vm"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() { logrus.SetLevel(logrus.DebugLevel) }

// captureStdout runs f with os.Stdout redirected to a pipe and returns
// everything written to it.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	assert.NoError(t, err)

	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	f()

	assert.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	assert.NoError(t, err)
	return string(out)
}

// assertEval interprets the whole of src with a single Interpret call on a
// fresh VM and checks what it printed to stdout. If errSubstr is non-empty,
// Interpret must return an error containing it, and stdout is not checked.
func assertEval(t *testing.T, errSubstr string, src string, wantStdout string) {
	t.Helper()

	vm_ := vm.NewVM()
	out := captureStdout(t, func() {
		err := vm_.Interpret(src)
		switch {
		case errSubstr == "":
			assert.NoError(t, err)
		default:
			assert.ErrorContains(t, err, errSubstr)
		}
	})
	if errSubstr == "" {
		assert.Equal(t, wantStdout, out)
	}
}

func TestCalculator(t *testing.T) {
	assertEval(t, "", `print 1 + 2 * 3;`, "7\n")
	assertEval(t, "", `print "foo" + "bar";`, "foobar\n")
	assertEval(t, "", `print 11.4 + 5.14 / 19198.10;`, "11.400267734827926\n")
	assertEval(t, "", `print -6 *(-4+ -3) == 6*4 + 2  *((((9))));`, "true\n")
	assertEval(t, "", heredoc.Doc(`
		print 4/1 - 4/3 + 4/5 - 4/7 + 4/9 - 4/11
			+ 4/13 - 4/15 + 4/17 - 4/19 + 4/21 - 4/23;
	`), "3.058402765927333\n")
}

func TestVarsAndAssignment(t *testing.T) {
	assertEval(t, "", `var a = 1; a = a + 2; print a;`, "3\n")
	assertEval(t, "", `var foo; print foo;`, "nil\n")
	assertEval(t, "", `var bar; var foo = 2; bar = foo = 2; print bar; print foo;`, "2\n2\n")
}

func TestBlocksAndScopes(t *testing.T) {
	// The inner "x"'s initializer reads the outer "x" it shadows, not
	// itself: resolveLocal must skip its own not-yet-initialized slot and
	// keep searching enclosing scopes.
	assertEval(t, "", `{ var x = 10; { var x = x + 1; print x; } print x; }`, "11\n10\n")
}

func TestVarOwnInit(t *testing.T) {
	// No enclosing "foo" to fall back to, so the RHS can only mean the
	// local being declared, still uninitialized.
	assertEval(t, "Can't read local variable in its own initializer.",
		`{ var foo = foo; }`, "")
}

func TestDuplicateLocal(t *testing.T) {
	assertEval(t, "Already a variable with this name in this scope.",
		`{ var a = 1; var a = 2; }`, "")
}

func TestTruthiness(t *testing.T) {
	assertEval(t, "", `print !nil; print !true; print !0;`, "true\nfalse\nfalse\n")
	assertEval(t, "", `print !!nil; print !!"";`, "false\ntrue\n")
}

func TestEquality(t *testing.T) {
	assertEval(t, "", `print "x" == 1; print 1 != 2;`, "false\ntrue\n")
	assertEval(t, "", `print nil == nil; print nil == false;`, "true\nfalse\n")
	assertEval(t, "", `print "abc" == "abc";`, "true\n")
}

func TestComparisons(t *testing.T) {
	assertEval(t, "", `print 1 < 2; print 2 <= 2; print 3 > 2; print 2 >= 3;`,
		"true\ntrue\ntrue\nfalse\n")
}

func TestRuntimeErrorNegateString(t *testing.T) {
	assertEval(t, "Operand must be a number.", `-"a";`, "")
}

func TestRuntimeErrorUndefinedGlobal(t *testing.T) {
	assertEval(t, "Undefined variable 'x'.", `print x;`, "")
}

func TestRuntimeErrorSetUndefinedGlobal(t *testing.T) {
	assertEval(t, "Undefined variable 'x'.", `x = 1;`, "")
}

func TestCompileErrorBadVarDecl(t *testing.T) {
	assertEval(t, "Expect variable name.", `var ;`, "")
}

func TestCompileErrorInvalidAssignTarget(t *testing.T) {
	assertEval(t, "Invalid assignment target.", `1 = 2;`, "")
}

func TestGlobalsPersistAcrossInterpretCalls(t *testing.T) {
	vm_ := vm.NewVM()
	out := captureStdout(t, func() {
		assert.NoError(t, vm_.Interpret(`var counter = 0;`))
		assert.NoError(t, vm_.Interpret(`counter = counter + 1; print counter;`))
		assert.NoError(t, vm_.Interpret(`counter = counter + 1; print counter;`))
	})
	assert.Equal(t, "1\n2\n", out)
}

func TestStringConcatenation(t *testing.T) {
	assertEval(t, "", `var greeting = "hello, " + "world"; print greeting;`, "hello, world\n")
}
