package typeid

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	PrefixUser         = "user"
	PrefixTrip         = "trip"
	PrefixItem         = "item"
	PrefixFocusSession = "fs"
)

func New(prefix string) string {
	id := typeid.MustGenerate(prefix)
	return id.String()
}

func NewUserID() string         { return New(PrefixUser) }
func NewTripID() string         { return New(PrefixTrip) }
func NewItemID() string         { return New(PrefixItem) }
func NewFocusSessionID() string { return New(PrefixFocusSession) }

func Validate(id, expectedPrefix string) error {
	parsed, err := typeid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid typeid %q: %w", id, err)
	}
	if parsed.Prefix() != expectedPrefix {
		return fmt.Errorf("expected prefix %q but got %q in id %q", expectedPrefix, parsed.Prefix(), id)
	}
	return nil
}
