package signature

import (
	"context"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	// lower: int32, string, list, timestamp; upper: bool; class bits 0xab
	raw := uint32(0xab<<24) | uint32(Bool)<<12 | 1<<11 | 1<<10 | uint32(String)<<5 | uint32(Int32)
	sig := Decode(raw)

	lower := sig.Lower()
	if lower.Primitive1 != Int32 || lower.Primitive2 != String {
		t.Errorf("lower primitives = %v,%v, want int32,string", lower.Primitive1, lower.Primitive2)
	}
	if !lower.IsList || !lower.HasTimestamp {
		t.Errorf("lower flags = list:%v ts:%v, want both set", lower.IsList, lower.HasTimestamp)
	}

	upper := sig.Upper()
	if upper.Primitive1 != Bool || upper.Primitive2 != Void || upper.IsList || upper.HasTimestamp {
		t.Errorf("upper = %+v, want plain bool", upper)
	}
	if sig.ClassBits() != 0xab {
		t.Errorf("ClassBits = %#x, want 0xab", sig.ClassBits())
	}
	if got := lower.String(); got != "list<int32, string>, timestamped" {
		t.Errorf("lower.String() = %q", got)
	}
}

func TestToggleListRoundTrip(t *testing.T) {
	for _, raw := range []uint32{0, 0xffffffff, 0x00abc123, 1 << 10} {
		for _, h := range []Half{Lower, Upper} {
			once := ToggleList(raw, h)
			if once == raw {
				t.Errorf("ToggleList(%#x, %v) did not change value", raw, h)
			}
			if twice := ToggleList(once, h); twice != raw {
				t.Errorf("ToggleList twice(%#x, %v) = %#x", raw, h, twice)
			}
		}
	}
}

func TestToggleBits(t *testing.T) {
	tests := []struct {
		name string
		fn   func(uint32, Half) uint32
		half Half
		want uint32
	}{
		{"list lower", ToggleList, Lower, 1 << 10},
		{"list upper", ToggleList, Upper, 1 << 22},
		{"timestamp lower", ToggleTimestamp, Lower, 1 << 11},
		{"timestamp upper", ToggleTimestamp, Upper, 1 << 23},
	}
	for _, tt := range tests {
		if got := tt.fn(0, tt.half); got != tt.want {
			t.Errorf("%s: got %#x, want %#x", tt.name, got, tt.want)
		}
	}
}

func TestSetPrimitive(t *testing.T) {
	raw := SetPrimitive(0, Lower, First, Int32)
	raw = SetPrimitive(raw, Lower, Second, Double)
	if h := Decode(raw).Lower(); h.Primitive1 != Int32 || h.Primitive2 != Double {
		t.Fatalf("lower = %+v, want int32,double", h)
	}

	raw = SetPrimitive(raw, Upper, First, String)
	if h := Decode(raw).Upper(); h.Primitive1 != String {
		t.Fatalf("upper = %+v, want string", h)
	}
	if h := Decode(raw).Lower(); h.Primitive1 != Int32 || h.Primitive2 != Double {
		t.Errorf("editing upper disturbed lower: %+v", h)
	}

	// Voiding the first primitive voids the second.
	voided := SetPrimitive(raw, Lower, First, Void)
	if h := Decode(voided).Lower(); h.Primitive1 != Void || h.Primitive2 != Void {
		t.Errorf("after void first: %+v, want both void", h)
	}

	// Writing a second primitive while the first is void is undone.
	empty := SetPrimitive(0, Upper, Second, Int8)
	if h := Decode(empty).Upper(); h.Primitive2 != Void {
		t.Errorf("second primitive survived with void first: %+v", h)
	}

	// Codes wider than 5 bits are masked.
	masked := SetPrimitive(0, Lower, First, Primitive(0xff))
	if masked != 0x1f {
		t.Errorf("masked = %#x, want 0x1f", masked)
	}
}

func TestSetPrimitivePreservesFlagsAndClassBits(t *testing.T) {
	raw := uint32(0x7f<<24) | 1<<23 | 1<<10
	got := SetPrimitive(raw, Upper, First, Int64)
	if got&0xff000000 != 0x7f000000 {
		t.Errorf("class bits changed: %#x", got)
	}
	sig := Decode(got)
	if !sig.Upper().HasTimestamp || !sig.Lower().IsList {
		t.Errorf("flags lost: %+v / %+v", sig.Lower(), sig.Upper())
	}
}

func TestKindFor(t *testing.T) {
	for _, k := range Kinds() {
		got, err := KindFor(k.Tag())
		if err != nil {
			t.Fatalf("KindFor(%q): %v", k.Tag(), err)
		}
		if got != k {
			t.Errorf("KindFor(%q) = %v, want %v", k.Tag(), got, k)
		}
	}

	if k, err := KindFor("masterterminal"); err != nil || k != Master {
		t.Errorf("case-insensitive lookup = %v, %v", k, err)
	}

	_, err := KindFor("WormholeTerminal")
	if !errors.Is(err, ErrUnknownTerminalKind) {
		t.Errorf("KindFor(unknown) err = %v, want ErrUnknownTerminalKind", err)
	}
}

func TestKindTable(t *testing.T) {
	if n := len(Kinds()); n != 13 {
		t.Fatalf("got %d kinds, want 13", n)
	}
	for _, k := range Kinds() {
		cp := CompatibleCounterpart(k)
		if CompatibleCounterpart(cp) != k {
			t.Errorf("counterpart of %v is %v, whose counterpart is %v", k, cp, CompatibleCounterpart(cp))
		}
		if cp.Category() != k.Category() {
			t.Errorf("%v and %v differ in category", k, cp)
		}
		if IconFor(k) == "" {
			t.Errorf("%v has no icon", k)
		}
	}

	if CompatibleCounterpart(Service) != Client {
		t.Errorf("Service counterpart = %v", CompatibleCounterpart(Service))
	}
	if Producer.Category() != CategoryConvenience {
		t.Errorf("Producer category = %v", Producer.Category())
	}
	if DeafMute.Category() != CategoryPrimitive {
		t.Errorf("DeafMute category = %v", DeafMute.Category())
	}
}

func TestKindText(t *testing.T) {
	text, err := CachedSubscriber.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var k Kind
	if err := k.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if k != CachedSubscriber {
		t.Errorf("got %v", k)
	}
	if err := k.UnmarshalText([]byte("nope")); !errors.Is(err, ErrUnknownTerminalKind) {
		t.Errorf("err = %v", err)
	}
}

type fakeClassifier struct {
	class Classification
	err   error
	seen  []uint32
}

func (f *fakeClassifier) Classify(_ context.Context, sig Signature) (Classification, error) {
	f.seen = append(f.seen, sig.Raw)
	return f.class, f.err
}

func TestClassifyDelegates(t *testing.T) {
	fc := &fakeClassifier{class: Reserved}
	got, err := Classify(context.Background(), Decode(0x01000000), fc)
	if err != nil {
		t.Fatal(err)
	}
	if got != Reserved {
		t.Errorf("got %v, want reserved", got)
	}
	if len(fc.seen) != 1 || fc.seen[0] != 0x01000000 {
		t.Errorf("classifier saw %v", fc.seen)
	}

	fc.err = errors.New("hub unavailable")
	if _, err := Classify(context.Background(), Decode(0), fc); err == nil {
		t.Error("expected error from classifier")
	}
	if _, err := Classify(context.Background(), Decode(0), nil); err == nil {
		t.Error("expected error without classifier")
	}
}

func TestParsePrimitive(t *testing.T) {
	p, err := ParsePrimitive(" Int32 ")
	if err != nil || p != Int32 {
		t.Errorf("ParsePrimitive = %v, %v", p, err)
	}
	if _, err := ParsePrimitive("quaternion"); err == nil {
		t.Error("expected error")
	}
	if s := Primitive(30).String(); s != "primitive(30)" {
		t.Errorf("String = %q", s)
	}
}
