package value

import "testing"

func TestMapPreservesInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("z", Int(1))
	m.Set("a", Int(2))
	m.Set("m", Int(3))

	entries, err := m.MapEntries()
	if err != nil {
		t.Fatalf("MapEntries: %v", err)
	}
	want := []string{"z", "a", "m"}
	for i, k := range want {
		if entries[i].Key != k {
			t.Fatalf("entry %d: want key %q, got %q", i, k, entries[i].Key)
		}
	}
}

func TestMapSetReplacesExistingKeyInPlace(t *testing.T) {
	m := NewMap()
	m.Set("a", Int(1))
	m.Set("b", Int(2))
	m.Set("a", Int(99))

	entries, _ := m.MapEntries()
	if len(entries) != 2 {
		t.Fatalf("want 2 entries after replace, got %d", len(entries))
	}
	if entries[0].Key != "a" {
		t.Fatalf("replace should not move key to end, got order %v", entries)
	}
	got, _ := entries[0].Val.Int()
	if got != 99 {
		t.Fatalf("want replaced value 99, got %d", got)
	}
}

func TestMarshalJSONPreservesKeyOrder(t *testing.T) {
	m := NewMap()
	m.Set("z", Int(1))
	m.Set("a", String("hi"))

	b, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	want := `{"z":1,"a":"hi"}`
	if string(b) != want {
		t.Fatalf("want %s, got %s", want, b)
	}
}

func TestRoundTripArrayAndNestedMap(t *testing.T) {
	inner := NewMap()
	inner.Set("x", Bool(true))
	arr := Array(Int(1), String("two"), inner)

	b, err := arr.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var out Value
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}

	elems, err := out.Array()
	if err != nil {
		t.Fatalf("Array: %v", err)
	}
	if len(elems) != 3 {
		t.Fatalf("want 3 elements, got %d", len(elems))
	}
	s, err := elems[1].String()
	if err != nil || s != "two" {
		t.Fatalf("want elem[1]=\"two\", got %q err=%v", s, err)
	}
	innerEntries, err := elems[2].MapEntries()
	if err != nil || len(innerEntries) != 1 || innerEntries[0].Key != "x" {
		t.Fatalf("want nested map with key x, got %v err=%v", innerEntries, err)
	}
}

func TestTypedDowncastReturnsTypeMismatch(t *testing.T) {
	v := String("not an int")
	if _, err := v.Int(); err == nil {
		t.Fatal("want type_mismatch error, got nil")
	}
}

func TestNDArrayRoundTrip(t *testing.T) {
	nd := NDArray{
		Shape: []int{2, 2},
		DType: DType{Code: "float", Bits: 32, Lanes: 1},
		Data:  []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	}
	v := NewNDArray(nd)
	if v.Kind() != KindNDArray {
		t.Fatalf("want KindNDArray, got %v", v.Kind())
	}
	got, err := v.NDArray()
	if err != nil {
		t.Fatalf("NDArray: %v", err)
	}
	if len(got.Shape) != 2 || got.Shape[0] != 2 || got.Shape[1] != 2 {
		t.Fatalf("shape mismatch: %v", got.Shape)
	}
	if got.DType.Code != "float" || got.DType.Bits != 32 {
		t.Fatalf("dtype mismatch: %+v", got.DType)
	}
}

func TestParseJSONIntegralBecomesInt(t *testing.T) {
	v, err := ParseJSON([]byte(`{"a": 3, "b": 3.5}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	a, ok := v.Get("a")
	if !ok {
		t.Fatal("missing key a")
	}
	if a.Kind() != KindInt {
		t.Fatalf("want KindInt for integral literal, got %v", a.Kind())
	}
	b, ok := v.Get("b")
	if !ok {
		t.Fatal("missing key b")
	}
	if b.Kind() != KindFloat64 {
		t.Fatalf("want KindFloat64 for fractional literal, got %v", b.Kind())
	}
}

func TestParseJSONRejectsMalformed(t *testing.T) {
	if _, err := ParseJSON([]byte(`{not json`)); err == nil {
		t.Fatal("want parse_error, got nil")
	}
}
