package fact

import (
	"bytes"
	"testing"
)

func TestMarshalCanonical_Deterministic(t *testing.T) {
	obj := Object{
		"zeta":  Int(1),
		"alpha": Str("x"),
		"mid":   Object{"b": Bool(true), "a": Array{Int(1), Int(2)}},
	}

	first, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(obj)
		if err != nil {
			t.Fatalf("MarshalCanonical() failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("non-deterministic output:\n%s\n%s", first, again)
		}
	}

	want := `{"alpha":"x","mid":{"a":[1,2],"b":true},"zeta":1}`
	if string(first) != want {
		t.Errorf("canonical form = %s, want %s", first, want)
	}
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	data, err := MarshalCanonical(Object{"note": Str(`a<b>&c`)})
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := `{"note":"a<b>&c"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "é" as e + combining acute must normalize to the precomposed form.
	decomposed := Object{"name": Str("Jose\u0301")}
	precomposed := Object{"name": Str("Jos\u00e9")}

	d1, err := MarshalCanonical(decomposed)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	d2, err := MarshalCanonical(precomposed)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Errorf("NFC mismatch: %s vs %s", d1, d2)
	}
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	// RFC 8785 keeps U+2028 and U+2029 literal even though encoding/json
	// escapes them by default.
	data, err := MarshalCanonical(Object{"s": Str("a\u2028b\u2029c")})
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	want := "{\"s\":\"a\u2028b\u2029c\"}"
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
