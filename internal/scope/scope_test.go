package scope

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	got := Normalize([]string{" Ledger:Read ", "ledger:read", "", "accounts:write"})
	want := []string{"accounts:write", "ledger:read"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize=%v, want %v", got, want)
	}
	if Normalize(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestSplitJoin(t *testing.T) {
	set := Split("read  write Read")
	if !reflect.DeepEqual(set, []string{"read", "write"}) {
		t.Fatalf("Split=%v", set)
	}
	if Join([]string{"write", "read"}) != "read write" {
		t.Fatalf("Join=%q", Join([]string{"write", "read"}))
	}
}

func TestIntersect(t *testing.T) {
	cases := []struct {
		a, b, want []string
	}{
		{[]string{"read", "write"}, []string{"read"}, []string{"read"}},
		{[]string{"read"}, []string{"write"}, nil},
		{nil, []string{"read"}, nil},
		{[]string{"A", "b"}, []string{"a", "B"}, []string{"a", "b"}},
	}
	for _, tc := range cases {
		if got := Intersect(tc.a, tc.b); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Intersect(%v,%v)=%v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSubset(t *testing.T) {
	if !Subset([]string{"a"}, []string{"a", "b"}) {
		t.Fatalf("expected subset")
	}
	if Subset([]string{"a", "c"}, []string{"a", "b"}) {
		t.Fatalf("unexpected subset")
	}
	if !Subset(nil, nil) {
		t.Fatalf("empty set is a subset of anything")
	}
}

func TestParsePermission(t *testing.T) {
	res, act, ok := ParsePermission("Ledger:Read")
	if !ok || res != "ledger" || act != "read" {
		t.Fatalf("ParsePermission=%q %q %v", res, act, ok)
	}
	for _, bad := range []string{"", "read", ":read", "read:", "a:b:c"} {
		if _, _, ok := ParsePermission(bad); ok {
			t.Fatalf("expected parse failure for %q", bad)
		}
	}
}
