package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID for an invocation. IDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id is a well-formed invocation ID.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// IDTime returns the creation time encoded in id.
func IDTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
