package redact

import (
	"bytes"
	"testing"
)

// highEntropySecret is a string with Shannon entropy > 4.5 that will trigger redaction.
const highEntropySecret = "sk-ant-REDACTED"

func TestBytes_NoSecrets(t *testing.T) {
	input := []byte("hello world, this is normal text")
	result := Bytes(input)
	if string(result) != string(input) {
		t.Errorf("expected unchanged input, got %q", result)
	}
	if &result[0] != &input[0] {
		t.Error("expected same underlying slice when no redaction needed")
	}
}

func TestBytes_WithSecret(t *testing.T) {
	input := []byte("my key is " + highEntropySecret + " ok")
	result := Bytes(input)
	expected := []byte("my key is REDACTED ok")
	if !bytes.Equal(result, expected) {
		t.Errorf("got %q, want %q", result, expected)
	}
}

func TestString_MultipleSecretsMerged(t *testing.T) {
	input := highEntropySecret + " " + highEntropySecret
	result := String(input)
	if result != "REDACTED REDACTED" {
		t.Errorf("got %q, want %q", result, "REDACTED REDACTED")
	}
}

func TestShouldScan(t *testing.T) {
	if ShouldScan(0) {
		t.Error("empty file should not be scanned")
	}
	if !ShouldScan(1024) {
		t.Error("small file should be scanned")
	}
	if ShouldScan(5 << 20) {
		t.Error("file over 4MiB should not be scanned")
	}
}
