// Command rvos-buildimg concatenates a set of user-program ELF binaries
// into the kernel image layout rvos/loader.Parse expects: an app count,
// an offset table, the concatenated bytes, and a trailing NUL-separated
// name table. Grounded on
// biscuit/src/kernel/chentry.go's style (os.Args-driven flags,
// log.Fatal on malformed input, an elf.NewFile validation helper)
// adapted from that tool's single-binary entry-patching job to this
// one's multi-binary concatenation job.
package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/tools/go/packages"
)

// appEntry is one bundled application: its exec-lookup name and the
// built ELF bytes.
type appEntry struct {
	name  string
	bytes []byte
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-watch] -o <outfile> <package>...\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nEach <package> is a Go import path for a riscv64 user program;\nthe last element of its import path becomes the bundled app's name for exec lookup.\n")
	os.Exit(2)
}

func main() {
	out := flag.String("o", "", "output image path")
	watch := flag.Bool("watch", false, "rebuild automatically on source changes")
	flag.Usage = usage
	flag.Parse()

	pkgPaths := flag.Args()
	if *out == "" || len(pkgPaths) == 0 {
		usage()
	}

	if err := build(*out, pkgPaths); err != nil {
		log.Fatalf("rvos-buildimg: %v", err)
	}
	if !*watch {
		return
	}

	dirs, err := packageDirs(pkgPaths)
	if err != nil {
		log.Fatalf("rvos-buildimg: resolving package directories for watch mode: %v", err)
	}
	if err := watchAndRebuild(*out, pkgPaths, dirs); err != nil {
		log.Fatalf("rvos-buildimg: %v", err)
	}
}

// packageDirs resolves each import path to its source directory via
// go/packages, the same discovery mechanism biscuit's own x/tools-based
// build tooling uses instead of guessing from GOPATH layout.
func packageDirs(pkgPaths []string) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedFiles}
	pkgs, err := packages.Load(cfg, pkgPaths...)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, p := range pkgs {
		if len(p.Errors) > 0 {
			return nil, fmt.Errorf("loading %s: %v", p.PkgPath, p.Errors[0])
		}
		if len(p.GoFiles) == 0 {
			continue
		}
		dirs = append(dirs, filepath.Dir(p.GoFiles[0]))
	}
	return dirs, nil
}

// watchAndRebuild rebuilds the image every time a .go file changes in
// any of dirs, until the watcher errors out or the process is killed.
func watchAndRebuild(out string, pkgPaths, dirs []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
	}

	log.Printf("rvos-buildimg: watching %d director(ies) for changes", len(dirs))
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".go" {
				continue
			}
			if err := build(out, pkgPaths); err != nil {
				log.Printf("rvos-buildimg: rebuild failed: %v", err)
				continue
			}
			log.Printf("rvos-buildimg: rebuilt %s (changed: %s)", out, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("rvos-buildimg: watcher error: %v", err)
		}
	}
}

// build compiles each package for riscv64/linux (this kernel's target
// triple, minus an OS — "linux" is the closest GOOS the toolchain
// accepts without a real freestanding target) into a temp file, then
// concatenates the resulting ELF images per the layout loader.Parse
// decodes.
func build(out string, pkgPaths []string) error {
	tmp, err := os.MkdirTemp("", "rvos-buildimg")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	var apps []appEntry
	for _, pkgPath := range pkgPaths {
		binPath := filepath.Join(tmp, filepath.Base(pkgPath))
		cmd := exec.Command("go", "build", "-o", binPath, pkgPath)
		cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=riscv64")
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("building %s: %w", pkgPath, err)
		}

		b, err := os.ReadFile(binPath)
		if err != nil {
			return fmt.Errorf("reading built binary for %s: %w", pkgPath, err)
		}
		if err := checkELF(b); err != nil {
			return fmt.Errorf("%s: %w", pkgPath, err)
		}
		apps = append(apps, appEntry{name: filepath.Base(pkgPath), bytes: b})
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeImage(f, apps)
}

// checkELF validates that b looks like a riscv64 little-endian
// executable, mirroring chkELF's role in chentry.go.
func checkELF(b []byte) error {
	ef, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		return err
	}
	if ef.Machine != elf.EM_RISCV {
		return fmt.Errorf("not a riscv64 elf (machine=%s)", ef.Machine)
	}
	if ef.Class != elf.ELFCLASS64 {
		return fmt.Errorf("not a 64-bit elf")
	}
	return nil
}

// writeImage encodes apps in the layout rvos/loader.Parse expects:
// count, offsets, concatenated bytes, NUL-terminated names.
func writeImage(w *os.File, apps []appEntry) error {
	numApps := uint64(len(apps))
	if err := binary.Write(w, binary.LittleEndian, numApps); err != nil {
		return err
	}

	offsets := make([]uint64, numApps+1)
	var off uint64
	for i, a := range apps {
		offsets[i] = off
		off += uint64(len(a.bytes))
	}
	offsets[numApps] = off
	for _, o := range offsets {
		if err := binary.Write(w, binary.LittleEndian, o); err != nil {
			return err
		}
	}

	for _, a := range apps {
		if _, err := w.Write(a.bytes); err != nil {
			return err
		}
	}

	for _, a := range apps {
		if _, err := w.Write(append([]byte(a.name), 0)); err != nil {
			return err
		}
	}
	return nil
}
