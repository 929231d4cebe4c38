// Package config holds the kernel's compile-time memory layout and
// scheduling constants, grouped the way biscuit groups its page/PTE
// constants in mem/mem.go.
package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

// bootYAML is the build-time boot config, baked into the binary so
// EffectiveBoot never depends on a file being present at runtime (no
// filesystem to read one from anyway, before mm.init has run).
//
//go:embed boot.yaml
var bootYAML []byte

// EffectiveBoot is the Boot decoded from the embedded boot.yaml,
// computed once at package init.
var EffectiveBoot = mustParseBoot(bootYAML)

func mustParseBoot(doc []byte) Boot {
	b, err := ParseBoot(doc)
	if err != nil {
		panic("config: invalid embedded boot.yaml: " + err.Error())
	}
	return b
}

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PageSize is the size in bytes of a single page (4 KiB).
const PageSize int = 1 << PGSHIFT

// PageOffsetMask masks the in-page offset bits of an address.
const PageOffsetMask uint64 = uint64(PageSize) - 1

// Sv39 has 44-bit page numbers and three 9-bit VPN levels.
const (
	PPNBits  = 44
	VPNBits  = 9
	VPNLevels = 3
)

// TRAMPOLINE is the highest page in the address space: usize::MAX - PAGE_SIZE + 1.
const TRAMPOLINE uint64 = ^uint64(0) - uint64(PageSize) + 1

// TrapContextAddr is TRAMPOLINE - PAGE_SIZE, the fixed VA of a task's trap context page.
const TrapContextAddr uint64 = TRAMPOLINE - uint64(PageSize)

// KernelStackSize is the size in bytes of one task's kernel stack.
const KernelStackSize = 2 * PageSize

// UserStackSize is the size in bytes of a freshly exec'd task's user stack.
const UserStackSize = 2 * PageSize

// TickPerSec bounds scheduling latency: the timer fires this many times per second.
const TickPerSec = 100

// MsecPerSec converts seconds to milliseconds for gettime-ms.
const MsecPerSec = 1000

// QEMU virt machine layout (matches original_source/os/src/config.rs,
// and the qemu-system-riscv64 -machine virt memory map this kernel
// targets). KernelBase is where OpenSBI hands off to supervisor-mode
// code; MemoryEndDefault bounds the span of RAM the kernel identity-maps
// for its own use.
const (
	KernelBase       uint64 = 0x80200000
	KernelImageSize  uint64 = 0x200000
	MemoryEndDefault uint64 = 0x80800000
	CLINTBase        uint64 = 0x2000000
	CLINTSize        uint64 = 0x10000
)

// EffectiveMemoryEnd returns b's override if set, otherwise MemoryEndDefault.
func (b Boot) EffectiveMemoryEnd() uint64 {
	if b.MemoryEndOverride != 0 {
		return b.MemoryEndOverride
	}
	return MemoryEndDefault
}

// Boot is an optional YAML-driven override of the defaults above, loaded
// at kernel build time the way tinyrange-cc loads its VM config from YAML.
type Boot struct {
	MemoryEndOverride uint64 `yaml:"memory_end,omitempty"`
	TickPerSecOverride int   `yaml:"tick_per_sec,omitempty"`
}

// ParseBoot decodes a YAML boot-config document. An empty document yields
// a zero-value Boot, meaning "use the compiled-in defaults".
func ParseBoot(doc []byte) (Boot, error) {
	var b Boot
	if len(doc) == 0 {
		return b, nil
	}
	if err := yaml.Unmarshal(doc, &b); err != nil {
		return Boot{}, err
	}
	return b, nil
}

// EffectiveTickPerSec returns b's override if set, otherwise TickPerSec.
func (b Boot) EffectiveTickPerSec() int {
	if b.TickPerSecOverride > 0 {
		return b.TickPerSecOverride
	}
	return TickPerSec
}
