// Package signature decodes and edits the 32-bit terminal signature and holds
// the fixed terminal kind table.
//
// Layout of a raw signature:
//
//	bits  0-11  lower half
//	bits 12-23  upper half
//	bits 24-31  classification bits, owned by the hub
//
// Each half carries two 5-bit primitive codes (offsets 0 and 5), a list flag
// (bit 10) and a timestamp flag (bit 11).
package signature

import (
	"context"
	"fmt"
	"strings"
)

// Half selects one of the two 12-bit halves of a signature.
type Half int

const (
	Lower Half = iota
	Upper
)

func (h Half) String() string {
	if h == Upper {
		return "upper"
	}
	return "lower"
}

// Slot selects one of the two primitive fields inside a half.
type Slot int

const (
	First Slot = iota
	Second
)

const (
	halfBits      = 12
	halfMask      = 0xfff
	primitiveMask = 0x1f
	secondOffset  = 5
	listBit       = 10
	timestampBit  = 11
)

// Signature is a decoded terminal signature.
type Signature struct {
	Raw uint32 `json:"raw"`
}

// HalfSignature is a view over 12 bits of a Signature.
type HalfSignature struct {
	Primitive1   Primitive `json:"primitive1"`
	Primitive2   Primitive `json:"primitive2"`
	IsList       bool      `json:"is_list"`
	HasTimestamp bool      `json:"has_timestamp"`
}

// Decode splits raw into its halves. Nothing beyond masking is validated.
func Decode(raw uint32) Signature {
	return Signature{Raw: raw}
}

// Lower returns bits 0-11.
func (s Signature) Lower() HalfSignature {
	return decodeHalf(s.Raw)
}

// Upper returns bits 12-23.
func (s Signature) Upper() HalfSignature {
	return decodeHalf(s.Raw >> halfBits)
}

// Half returns the requested half.
func (s Signature) Half(h Half) HalfSignature {
	if h == Upper {
		return s.Upper()
	}
	return s.Lower()
}

// ClassBits returns bits 24-31 untouched. Their meaning is known only to the hub.
func (s Signature) ClassBits() uint8 {
	return uint8(s.Raw >> 24)
}

func (s Signature) String() string {
	return fmt.Sprintf("0x%08x [%s | %s]", s.Raw, s.Lower(), s.Upper())
}

func decodeHalf(bits uint32) HalfSignature {
	bits &= halfMask
	return HalfSignature{
		Primitive1:   Primitive(bits & primitiveMask),
		Primitive2:   Primitive((bits >> secondOffset) & primitiveMask),
		IsList:       bits&(1<<listBit) != 0,
		HasTimestamp: bits&(1<<timestampBit) != 0,
	}
}

// String renders e.g. "list<int32, string>, timestamped" or "void".
func (h HalfSignature) String() string {
	var b strings.Builder
	inner := h.Primitive1.String()
	if h.Primitive2 != Void {
		inner += ", " + h.Primitive2.String()
	}
	if h.IsList {
		b.WriteString("list<" + inner + ">")
	} else {
		b.WriteString(inner)
	}
	if h.HasTimestamp {
		b.WriteString(", timestamped")
	}
	return b.String()
}

func halfShift(h Half) uint {
	if h == Upper {
		return halfBits
	}
	return 0
}

// ToggleTimestamp flips bit 11 (lower) or 23 (upper).
func ToggleTimestamp(raw uint32, h Half) uint32 {
	return raw ^ (1 << (halfShift(h) + timestampBit))
}

// ToggleList flips bit 10 (lower) or 22 (upper).
func ToggleList(raw uint32, h Half) uint32 {
	return raw ^ (1 << (halfShift(h) + listBit))
}

// SetPrimitive writes code into the given slot of a half. If the half's first
// primitive ends up Void, its second primitive is forced to Void too.
func SetPrimitive(raw uint32, h Half, slot Slot, code Primitive) uint32 {
	base := halfShift(h)
	offset := base
	if slot == Second {
		offset += secondOffset
	}

	raw &^= primitiveMask << offset
	raw |= (uint32(code) & primitiveMask) << offset

	if Primitive((raw>>base)&primitiveMask) == Void {
		raw &^= primitiveMask << (base + secondOffset)
	}
	return raw
}

// Classification is the hub's verdict on a signature.
type Classification int

const (
	Custom Classification = iota
	Official
	Reserved
)

func (c Classification) String() string {
	switch c {
	case Official:
		return "official"
	case Reserved:
		return "reserved"
	default:
		return "custom"
	}
}

// Classifier answers classification queries. Implemented by the hub facade.
type Classifier interface {
	Classify(ctx context.Context, sig Signature) (Classification, error)
}

// Classify asks the hub to classify sig. No local inference is attempted.
func Classify(ctx context.Context, sig Signature, c Classifier) (Classification, error) {
	if c == nil {
		return Custom, fmt.Errorf("classify %s: no classifier", sig)
	}
	class, err := c.Classify(ctx, sig)
	if err != nil {
		return Custom, fmt.Errorf("classify 0x%08x: %w", sig.Raw, err)
	}
	return class, nil
}
