package protocol

import "testing"

func TestDefaultErrorTable(t *testing.T) {
	table := DefaultErrorTable()

	if table.Len() == 0 {
		t.Fatal("default table should not be empty")
	}

	if got := table.Lookup(500); got != "Internal HDM error" {
		t.Errorf("Lookup(500) = %q, want %q", got, "Internal HDM error")
	}

	if got := table.Lookup(9999); got != UnknownErrorMessage {
		t.Errorf("Lookup(9999) = %q, want %q", got, UnknownErrorMessage)
	}

	// Same instance on every call
	if DefaultErrorTable() != table {
		t.Error("DefaultErrorTable() should return a shared instance")
	}
}

func TestErrorTable_Describe(t *testing.T) {
	table := NewErrorTable(map[int]string{145: "Printer is out of paper"})

	tests := []struct {
		status Status
		want   string
	}{
		{145, "145: Printer is out of paper"},
		{146, "146: Unknown Error"},
	}

	for _, tt := range tests {
		if got := table.Describe(tt.status); got != tt.want {
			t.Errorf("Describe(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestErrorTable_WithOverrides(t *testing.T) {
	base := NewErrorTable(map[int]string{101: "a", 102: "b"})
	merged := base.WithOverrides(map[int]string{102: "B", 900: "custom"})

	if merged.Lookup(101) != "a" {
		t.Errorf("Lookup(101) = %q, want a", merged.Lookup(101))
	}
	if merged.Lookup(102) != "B" {
		t.Errorf("Lookup(102) = %q, want B", merged.Lookup(102))
	}
	if merged.Lookup(900) != "custom" {
		t.Errorf("Lookup(900) = %q, want custom", merged.Lookup(900))
	}

	// Base is untouched
	if base.Lookup(102) != "b" {
		t.Error("WithOverrides() must not modify the receiver")
	}
	if base.Len() != 2 {
		t.Errorf("base.Len() = %d, want 2", base.Len())
	}
}

func TestParseErrorTable(t *testing.T) {
	data := []byte("codes:\n  404: \"Wrong operation code\"\n  111: \"Wrong cashier ID or PIN\"\n")

	table, err := ParseErrorTable(data)
	if err != nil {
		t.Fatalf("ParseErrorTable() error = %v", err)
	}

	codes := table.Codes()
	if len(codes) != 2 || codes[0] != 111 || codes[1] != 404 {
		t.Errorf("Codes() = %v, want [111 404]", codes)
	}

	if _, err := ParseErrorTable([]byte("codes: [not, a, map")); err == nil {
		t.Error("ParseErrorTable() should fail on invalid YAML")
	}
}

func TestNilErrorTableLookup(t *testing.T) {
	var table *ErrorTable
	if got := table.Lookup(500); got != UnknownErrorMessage {
		t.Errorf("nil table Lookup() = %q, want %q", got, UnknownErrorMessage)
	}
}
