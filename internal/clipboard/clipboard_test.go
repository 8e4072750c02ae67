package clipboard

import "testing"

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory("initial")

	text, err := m.ReadText()
	if err != nil {
		t.Fatalf("ReadText failed: %v", err)
	}
	if text != "initial" {
		t.Errorf("ReadText = %q, want %q", text, "initial")
	}

	if err := m.WriteText("updated"); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	text, _ = m.ReadText()
	if text != "updated" {
		t.Errorf("ReadText after write = %q, want %q", text, "updated")
	}
}

func TestMemoryIsAccessor(t *testing.T) {
	var _ Accessor = NewMemory("")
	var _ Accessor = NewSystem()
}
