package phone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		want   verify.Identifier
		wantOK bool
	}{
		{name: "mobile with area code", input: "11999990000", want: "5511999990000", wantOK: true},
		{name: "landline with area code", input: "1133334444", want: "551133334444", wantOK: true},
		{name: "already international", input: "5511999990000", want: "5511999990000", wantOK: true},
		{name: "formatted", input: "(11) 99999-0000", want: "5511999990000", wantOK: true},
		{name: "plus prefix", input: "+55 11 99999-0000", want: "5511999990000", wantOK: true},
		{name: "too short", input: "123", wantOK: false},
		{name: "letters only", input: "abc", wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "calling code but too short", input: "55119999", wantOK: false},
		{name: "calling code but too long", input: "55119999900001", wantOK: false},
		{name: "foreign international number", input: "14155552671000", wantOK: false},
		{name: "nine digits", input: "999990000", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Normalize(tt.input)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"11999990000",
		"1133334444",
		"5511999990000",
		"(21) 3333-4444",
		"+55 (31) 98888-7777",
	}
	for _, in := range inputs {
		first, ok := Normalize(in)
		require.True(t, ok, in)
		second, ok := Normalize(string(first))
		require.True(t, ok, in)
		require.Equal(t, first, second)
	}
}

func TestParseListDeduplicatesEquivalentForms(t *testing.T) {
	t.Parallel()

	got := ParseList("11999990000\n5511999990000\n(11)99999-0000")
	require.Equal(t, []verify.Identifier{"5511999990000"}, got)
}

func TestParseListDropsInvalidEntries(t *testing.T) {
	t.Parallel()

	require.Empty(t, ParseList("123\nabc\n"))
	require.Empty(t, ParseList(""))
}

func TestParseListPreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()

	got := ParseList("21988887777\r\n  \r\n11999990000\n21 98888-7777\n1133334444\n")
	require.Equal(t, []verify.Identifier{
		"5521988887777",
		"5511999990000",
		"551133334444",
	}, got)
}

func FuzzNormalize(f *testing.F) {
	for _, seed := range []string{"11999990000", "5511999990000", "(11) 3333-4444", "abc", ""} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		id, ok := Normalize(raw)
		if !ok {
			return
		}
		if len(id) < MinLength || len(id) > MaxLength {
			t.Fatalf("identifier %q out of bounds", id)
		}
		again, ok := Normalize(string(id))
		if !ok || again != id {
			t.Fatalf("normalize not idempotent: %q -> %q", id, again)
		}
	})
}
