// Package insn decodes a handful of bytes of x86 machine code, used purely
// for diagnostics: when a software breakpoint's saved byte no longer
// matches what's expected on removal (spec.md's self-modifying-code
// caveat), logging the instruction that used to be there is far more useful
// than logging a bare byte value.
package insn

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DescribeAt decodes the instruction starting at code[0], assuming mode is
// 32 or 64 (matching the tracee's bitness), and returns its length and a
// human-readable mnemonic. Decode failures are reported as an error rather
// than panicking -- this is a best-effort diagnostic, never load-bearing.
func DescribeAt(code []byte, mode int) (length int, text string, err error) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return 0, "", fmt.Errorf("insn: decode failed: %w", err)
	}
	return inst.Len, x86asm.GNUSyntax(inst, 0, nil), nil
}
