package webhook

import "testing"

func TestRedactDataIncludeFields(t *testing.T) {
	wh := &Webhook{IncludeFields: []string{"email", "name"}}
	data := map[string]any{"email": "a@b.co", "name": "Ada", "ssn": "123-45-6789"}

	got := wh.RedactData(data)

	if len(got) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(got))
	}
	if _, ok := got["ssn"]; ok {
		t.Error("ssn should have been dropped")
	}
	if got["email"] != "a@b.co" {
		t.Error("email should survive redaction")
	}

	// Original map untouched.
	if len(data) != 3 {
		t.Error("input map must not be mutated")
	}
}

func TestRedactDataExcludeFields(t *testing.T) {
	wh := &Webhook{ExcludeFields: []string{"ssn"}}
	data := map[string]any{"email": "a@b.co", "ssn": "123-45-6789"}

	got := wh.RedactData(data)

	if _, ok := got["ssn"]; ok {
		t.Error("ssn should have been excluded")
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 field, got %d", len(got))
	}
}

func TestRedactDataIncludeThenExclude(t *testing.T) {
	wh := &Webhook{
		IncludeFields: []string{"email", "phone"},
		ExcludeFields: []string{"phone"},
	}
	data := map[string]any{"email": "a@b.co", "phone": "555-0100", "name": "Ada"}

	got := wh.RedactData(data)

	if len(got) != 1 {
		t.Fatalf("expected 1 field, got %d", len(got))
	}
	if _, ok := got["email"]; !ok {
		t.Error("email should survive")
	}
}

func TestRedactDataNoRules(t *testing.T) {
	wh := &Webhook{}
	data := map[string]any{"a": 1, "b": 2}

	got := wh.RedactData(data)
	if len(got) != 2 {
		t.Fatalf("expected full copy, got %d fields", len(got))
	}
}
