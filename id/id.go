// Package id provides the prefixed, K-sortable identifiers used for
// sessions, batches, projects and the records derived from them.
//
// An ID renders as "prefix_suffix" where the suffix is a base32 UUIDv7, so
// IDs of one kind sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of entity an ID belongs to.
type Prefix string

const (
	PrefixSession    Prefix = "sess"
	PrefixBatch      Prefix = "bat"
	PrefixProject    Prefix = "proj"
	PrefixDefinition Prefix = "evdef"
	PrefixQuarantine Prefix = "qrn"
	PrefixErrorGroup Prefix = "errgrp"
)

// ID is a typed identifier. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the empty ID. It renders as "" and stores as NULL.
var Nil ID

// New mints an ID of the given kind. An invalid prefix is a programming
// error and panics.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, ok: true}
}

// Parse accepts any well-formed typeid string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// ParseWithPrefix parses s and rejects IDs of any other kind.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, want)
	}
	return v, nil
}

func NewSessionID() ID    { return New(PrefixSession) }
func NewBatchID() ID      { return New(PrefixBatch) }
func NewProjectID() ID    { return New(PrefixProject) }
func NewDefinitionID() ID { return New(PrefixDefinition) }
func NewQuarantineID() ID { return New(PrefixQuarantine) }
func NewErrorGroupID() ID { return New(PrefixErrorGroup) }

func ParseSessionID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixSession) }
func ParseBatchID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixBatch) }
func ParseProjectID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixProject) }
func ParseQuarantineID(s string) (ID, error) { return ParseWithPrefix(s, PrefixQuarantine) }
func ParseErrorGroupID(s string) (ID, error) { return ParseWithPrefix(s, PrefixErrorGroup) }

func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.ok }

// MarshalText renders Nil as an empty string so optional IDs round-trip
// through JSON and YAML.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value stores Nil as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.ok {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
