package insn

import "testing"

func TestDescribeAtDecodesSimpleInstruction(t *testing.T) {
	// 0x90 is NOP on x86; a single-byte instruction either mode.
	length, text, err := DescribeAt([]byte{0x90, 0x90, 0x90}, 64)
	if err != nil {
		t.Fatalf("DescribeAt: %v", err)
	}
	if length != 1 {
		t.Fatalf("NOP should decode as length 1, got %d", length)
	}
	if text == "" {
		t.Fatalf("expected a non-empty mnemonic")
	}
}

func TestDescribeAtRejectsGarbage(t *testing.T) {
	if _, _, err := DescribeAt(nil, 64); err == nil {
		t.Fatalf("expected an error decoding an empty buffer")
	}
}
