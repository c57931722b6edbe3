package signature

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTerminalKind is returned by KindFor for tags outside the table.
var ErrUnknownTerminalKind = errors.New("unknown terminal kind")

// Primitive is a 5-bit primitive type code.
type Primitive uint8

const (
	Void Primitive = iota
	Bool
	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float
	Double
	String
	JSON
	Raw
)

var primitiveNames = [...]string{
	Void:   "void",
	Bool:   "bool",
	Int8:   "int8",
	UInt8:  "uint8",
	Int16:  "int16",
	UInt16: "uint16",
	Int32:  "int32",
	UInt32: "uint32",
	Int64:  "int64",
	UInt64: "uint64",
	Float:  "float",
	Double: "double",
	String: "string",
	JSON:   "json",
	Raw:    "raw",
}

func (p Primitive) String() string {
	if int(p) < len(primitiveNames) {
		return primitiveNames[p]
	}
	return fmt.Sprintf("primitive(%d)", uint8(p))
}

// ParsePrimitive maps a name such as "int32" back to its code.
func ParsePrimitive(name string) (Primitive, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for code, n := range primitiveNames {
		if n == name {
			return Primitive(code), nil
		}
	}
	return Void, fmt.Errorf("unknown primitive %q", name)
}

// Category tells primitive terminals apart from the convenience ones built on them.
type Category int

const (
	CategoryPrimitive Category = iota
	CategoryConvenience
)

func (c Category) String() string {
	if c == CategoryConvenience {
		return "convenience"
	}
	return "primitive"
}

// Tag is the hub facade's type tag for a terminal kind.
type Tag string

// Kind is one of the 13 terminal kinds.
type Kind int

const (
	DeafMute Kind = iota
	Publisher
	Subscriber
	CachedPublisher
	CachedSubscriber
	Scatterer
	Gatherer
	Producer
	Consumer
	Master
	Slave
	Service
	Client
	numKinds
)

type kindInfo struct {
	name        string
	tag         Tag
	category    Category
	counterpart Kind
	icon        string
}

var kinds = [numKinds]kindInfo{
	DeafMute:         {"DeafMute", "DeafMuteTerminal", CategoryPrimitive, DeafMute, "deaf-mute"},
	Publisher:        {"Publisher", "PublisherTerminal", CategoryPrimitive, Subscriber, "publisher"},
	Subscriber:       {"Subscriber", "SubscriberTerminal", CategoryPrimitive, Publisher, "subscriber"},
	CachedPublisher:  {"CachedPublisher", "CachedPublisherTerminal", CategoryPrimitive, CachedSubscriber, "cached-publisher"},
	CachedSubscriber: {"CachedSubscriber", "CachedSubscriberTerminal", CategoryPrimitive, CachedPublisher, "cached-subscriber"},
	Scatterer:        {"Scatterer", "ScattererTerminal", CategoryPrimitive, Gatherer, "scatterer"},
	Gatherer:         {"Gatherer", "GathererTerminal", CategoryPrimitive, Scatterer, "gatherer"},
	Producer:         {"Producer", "ProducerTerminal", CategoryConvenience, Consumer, "producer"},
	Consumer:         {"Consumer", "ConsumerTerminal", CategoryConvenience, Producer, "consumer"},
	Master:           {"Master", "MasterTerminal", CategoryConvenience, Slave, "master"},
	Slave:            {"Slave", "SlaveTerminal", CategoryConvenience, Master, "slave"},
	Service:          {"Service", "ServiceTerminal", CategoryConvenience, Client, "service"},
	Client:           {"Client", "ClientTerminal", CategoryConvenience, Service, "client"},
}

// Kinds returns all kinds in table order.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Valid reports whether k is one of the 13 table entries.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// Tag returns the facade type tag for k.
func (k Kind) Tag() Tag {
	if !k.Valid() {
		return ""
	}
	return kinds[k].tag
}

// Category returns whether k is a primitive or a convenience terminal.
func (k Kind) Category() Category {
	if !k.Valid() {
		return CategoryPrimitive
	}
	return kinds[k].category
}

// KindFor maps a facade type tag to its kind. Tags match case-insensitively;
// anything else fails with ErrUnknownTerminalKind.
func KindFor(tag Tag) (Kind, error) {
	for i, info := range kinds {
		if strings.EqualFold(string(info.tag), string(tag)) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTerminalKind, string(tag))
}

// IconFor returns the icon tag used when rendering k.
func IconFor(k Kind) string {
	if !k.Valid() {
		return ""
	}
	return kinds[k].icon
}

// CompatibleCounterpart returns the kind a terminal of kind k can bind to.
func CompatibleCounterpart(k Kind) Kind {
	if !k.Valid() {
		return k
	}
	return kinds[k].counterpart
}

// MarshalText encodes a kind as its facade tag.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTerminalKind, int(k))
	}
	return []byte(kinds[k].tag), nil
}

// UnmarshalText decodes a facade tag.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := KindFor(Tag(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}
