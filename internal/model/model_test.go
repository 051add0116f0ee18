package model

import (
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{NewID(), true},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
		{"", false},
		{"nonexistent", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FA", false},
		{"01ARZ3NDEKTSV4RRFFQ69G5FAU", false},
		{"81ARZ3NDEKTSV4RRFFQ69G5FAV", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIDTime(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	got, err := IDTime(NewID())
	if err != nil {
		t.Fatalf("IDTime: %v", err)
	}
	if got.Before(before) || got.After(time.Now()) {
		t.Errorf("IDTime = %v, want between %v and now", got, before)
	}
	if _, err := IDTime("nonexistent"); err == nil {
		t.Error("IDTime(nonexistent) err = nil")
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestContentModelFor(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Module:Foo", ContentModelScribunto},
		{"Module:Foo/data", ContentModelScribunto},
		{"Module:Foo/doc", ContentModelWikitext},
		{"Template:Foo", ContentModelWikitext},
		{"Main Page", ContentModelWikitext},
	}
	for _, tt := range tests {
		if got := ContentModelFor(tt.title); got != tt.want {
			t.Errorf("ContentModelFor(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestIdentity(t *testing.T) {
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Identity("abc"); got != abc {
		t.Errorf("Identity(abc) = %q, want %q", got, abc)
	}
	if Identity("a") == Identity("b") {
		t.Errorf("Identity collides for distinct texts")
	}
}
