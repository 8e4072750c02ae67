package prompt

import (
	"context"
	"testing"
)

func TestStaticAnswers(t *testing.T) {
	value, ok, err := Static{Value: "Alice"}.Ask(context.Background(), "Name", "Bob")
	if err != nil || !ok {
		t.Fatalf("Ask = (%q, %v, %v)", value, ok, err)
	}
	if value != "Alice" {
		t.Errorf("value = %q, want Alice", value)
	}
}

func TestStaticEchoesDefault(t *testing.T) {
	value, ok, err := Static{}.Ask(context.Background(), "Name", "Bob")
	if err != nil || !ok {
		t.Fatalf("Ask = (%q, %v, %v)", value, ok, err)
	}
	if value != "Bob" {
		t.Errorf("value = %q, want the default", value)
	}
}

func TestStaticCancel(t *testing.T) {
	_, ok, err := Static{Cancel: true}.Ask(context.Background(), "Name", "")
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}
	if ok {
		t.Error("Cancel should report ok=false")
	}
}
