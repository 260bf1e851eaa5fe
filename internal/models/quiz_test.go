package models

import (
	"encoding/json"
	"testing"
)

func TestItemIDAcceptsNumbersAndStrings(t *testing.T) {
	tests := []struct {
		in   string
		want ItemID
		out  string
	}{
		{`17`, "17", `17`},
		{`2.50`, "2.50", `2.50`},
		{`"abc"`, "abc", `"abc"`},
		{`"q-1"`, "q-1", `"q-1"`},
		// quoted numeric ids come back as numbers
		{`"123"`, "123", `123`},
	}

	for _, tt := range tests {
		var id ItemID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
		}
		b, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("Marshal(%q): %v", id, err)
		}
		if string(b) != tt.out {
			t.Errorf("Marshal(%q) = %s, want %s", id, b, tt.out)
		}
	}
}

func TestItemIDRejectsObjects(t *testing.T) {
	var id ItemID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Error("expected an error for an object id")
	}
}
