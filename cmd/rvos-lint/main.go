// Command rvos-lint is a build-time whole-program check: it verifies
// that no syscall handler in rvos/syscall returns or captures a
// pointer whose points-to set reaches into kernel-only state (the
// scheduler's ready queue, the processor's current-task slot, the trap
// package's installed environment) rather than staying within the
// calling task's own address space and fd table.
//
// This has no analog in the teacher repo (biscuit's x86 memory model
// doesn't give Go itself a user/kernel pointer distinction to check);
// it exists to exercise golang.org/x/tools/go/pointer, the whole-
// program pointer analysis the teacher's own go.mod already carries.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// kernelOnlyPackages are import paths a syscall handler's pointer
// results must never resolve into; reaching one means a handler leaked
// a reference to live kernel bookkeeping instead of a copy or a
// translated user-memory view.
var kernelOnlyPackages = []string{
	"rvos/sched",
	"rvos/trap",
}

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <main package>", os.Args[0])
	}
	mainPkg := os.Args[1]

	findings, err := lint(mainPkg)
	if err != nil {
		log.Fatalf("rvos-lint: %v", err)
	}
	if len(findings) == 0 {
		fmt.Println("rvos-lint: no kernel-pointer leaks found")
		return
	}
	for _, f := range findings {
		fmt.Fprintln(os.Stderr, f)
	}
	os.Exit(1)
}

// lint loads mainPkg and its dependencies, builds whole-program SSA,
// and runs pointer.Analyze with a query on every pointer-typed value
// inside each rvos/syscall function whose name starts with "sys",
// reporting any whose points-to set includes a value from
// kernelOnlyPackages.
func lint(mainPkg string) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedFiles | packages.NeedImports |
		packages.NeedDeps | packages.NeedTypes | packages.NeedSyntax |
		packages.NeedTypesInfo | packages.NeedTypesSizes}
	pkgs, err := packages.Load(cfg, mainPkg)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", mainPkg, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("%s has type errors", mainPkg)
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	var syscallPkg *ssa.Package
	var mainSSA *ssa.Package
	for _, p := range ssaPkgs {
		if p == nil {
			continue
		}
		switch p.Pkg.Path() {
		case "rvos/syscall":
			syscallPkg = p
		case mainPkg:
			mainSSA = p
		}
	}
	if syscallPkg == nil {
		return nil, fmt.Errorf("rvos/syscall not reachable from %s", mainPkg)
	}
	if mainSSA == nil || mainSSA.Func("main") == nil {
		return nil, fmt.Errorf("%s has no main function", mainPkg)
	}

	config := &pointer.Config{
		Mains:          []*ssa.Package{mainSSA},
		BuildCallGraph: false,
	}

	queried := map[*ssa.Function][]ssa.Value{}
	for _, member := range syscallPkg.Members {
		fn, ok := member.(*ssa.Function)
		if !ok || !strings.HasPrefix(fn.Name(), "sys") {
			continue
		}
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				v, ok := instr.(ssa.Value)
				if !ok || v.Type() == nil {
					continue
				}
				if !pointer.CanPoint(v.Type()) {
					continue
				}
				config.AddQuery(v)
				queried[fn] = append(queried[fn], v)
			}
		}
	}

	result, err := pointer.Analyze(config)
	if err != nil {
		return nil, fmt.Errorf("pointer analysis: %w", err)
	}

	var findings []string
	for fn, values := range queried {
		for _, v := range values {
			p, ok := result.Queries[v]
			if !ok {
				continue
			}
			for _, label := range p.PointsTo().Labels() {
				pkg := label.Value().Parent()
				if pkg == nil || pkg.Pkg == nil {
					continue
				}
				if leaksKernelState(pkg.Pkg.Pkg.Path()) {
					findings = append(findings, fmt.Sprintf(
						"%s: value %s may alias kernel state in %s (%s)",
						fn.Name(), v.Name(), pkg.Pkg.Pkg.Path(), label.String()))
				}
			}
		}
	}
	return findings, nil
}

func leaksKernelState(pkgPath string) bool {
	for _, p := range kernelOnlyPackages {
		if pkgPath == p {
			return true
		}
	}
	return false
}
