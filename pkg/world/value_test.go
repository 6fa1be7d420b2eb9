package world

import "testing"

func TestToString(t *testing.T) {
	cases := []struct {
		in   Value
		want string
	}{
		{nil, ""},
		{"hi", "hi"},
		{true, "true"},
		{float64(3), "3"},
		{float64(3.5), "3.5"},
		{Ref("#door"), "#door"},
		{List{"a", float64(2), Ref("#x")}, "[a 2 #x]"},
		{List{"two words", ""}, `["two words" ""]`},
	}
	for _, tc := range cases {
		if got := ToString(tc.in); got != tc.want {
			t.Errorf("ToString(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []Value{nil, false, float64(0), "", List{}, Dict{}} {
		if Truthy(v) {
			t.Errorf("Truthy(%#v) = true", v)
		}
	}
	for _, v := range []Value{true, float64(-1), "no", List{nil}, Ref("#x")} {
		if !Truthy(v) {
			t.Errorf("Truthy(%#v) = false", v)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal(float64(2), "2") {
		t.Error("numeric string comparison failed")
	}
	if !Equal(Ref("#a"), Ref("#a")) || Equal(Ref("#a"), Ref("#b")) {
		t.Error("handle identity comparison wrong")
	}
	if Equal(Ref("#a"), "#a") {
		t.Error("handle equals its ID string")
	}
	if !Equal(List{float64(1), "x"}, List{float64(1), "x"}) {
		t.Error("list element-wise comparison failed")
	}
	if Equal(List{float64(1)}, List{float64(1), float64(2)}) {
		t.Error("length-mismatched lists compared equal")
	}
}

func TestCloneValueIsolation(t *testing.T) {
	orig := List{Dict{"k": "v"}}
	clone := CloneValue(orig).(List)
	clone[0].(Dict)["k"] = "changed"
	if orig[0].(Dict)["k"] != "v" {
		t.Error("clone shares storage with original")
	}
}
