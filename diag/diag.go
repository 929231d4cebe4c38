// Package diag provides the kernel's fatal-error diagnostics: a stack
// dump grounded on biscuit's caller.Callerdump, illegal-instruction
// disassembly via golang.org/x/arch's riscv64 decoder, and symbol
// demangling for stack traces that touch foreign-mangled names.
package diag

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/riscv64/riscv64asm"

	"rvos/sbi"
)

// Callerdump renders the call stack starting at depth, one frame per
// line, in the same "file:line\n\t<-file:line" shape as biscuit's
// Callerdump.
func Callerdump(start int) string {
	s := ""
	for i := start; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// Recover, deferred once at the top of the kernel's main loop, turns
// any panic into a diagnostic dump followed by SBI shutdown — the
// fatal path for kind-1 programming-invariant errors (double free,
// re-map, translate failure during kernel bookkeeping, and so on).
func Recover() {
	r := recover()
	if r == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "kernel panic: %v\n", r)
	fmt.Fprint(os.Stderr, Callerdump(3))
	sbi.Shutdown(sbi.SRSTReasonSystemFailure)
}

// DisassembleIllegal decodes the bytes of a faulting instruction for
// the "illegal instruction" trap log line.
func DisassembleIllegal(instrBytes []byte) string {
	inst, err := riscv64asm.Decode(instrBytes)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return riscv64asm.GNUSyntax(inst)
}

// DemangleSymbol best-effort demangles name for a stack trace line. It
// returns name unchanged if it isn't a recognized mangling (ordinary Go
// symbols aren't, so this mostly matters for any foreign-mangled
// symbols a loaded user image's trace happens to carry).
func DemangleSymbol(name string) string {
	if out, err := demangle.ToString(name, demangle.NoClones); err == nil {
		return out
	}
	return name
}
