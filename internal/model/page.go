package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Content models.
const (
	ContentModelScribunto = "Scribunto"
	ContentModelWikitext  = "wikitext"
)

// Page is a stored page: a module source, a template or any other wikitext.
type Page struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	ContentModel string    `json:"content_model"`
	Identity     string    `json:"identity"`
	Text         string    `json:"text"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContentModelFor returns the default content model of title. Pages in the
// Module namespace hold scripts, except their /doc subpages.
func ContentModelFor(title string) string {
	if strings.HasPrefix(title, "Module:") && !strings.HasSuffix(title, "/doc") {
		return ContentModelScribunto
	}
	return ContentModelWikitext
}

// Identity is the content identity of text: the hex SHA-256 of its bytes.
// Two pages with the same identity compile to the same chunk.
func Identity(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
