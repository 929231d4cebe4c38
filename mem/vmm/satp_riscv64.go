//go:build riscv64

package vmm

func init() { satpWrite = writeSatp }

// writeSatp is implemented in satp_riscv64.s: csrw satp, then sfence.vma
// to flush any stale TLB entries from the previous address space.
func writeSatp(token uint64)
