// Package models defines the item metadata persisted by the metadata store.
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind distinguishes uploaded files from clipboard entries. All kinds share
// the same storage and retention lifecycle.
type Kind string

const (
	KindFile           Kind = "file"
	KindClipboardText  Kind = "clipboard_text"
	KindClipboardImage Kind = "clipboard_image"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindClipboardText, KindClipboardImage:
		return true
	}
	return false
}

// ParseKind accepts the stored names plus the short CLI forms
// "text" and "image".
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "text":
		return KindClipboardText, nil
	case "image":
		return KindClipboardImage, nil
	default:
		if k.Valid() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

const (
	MaxDisplayNameLen = 255
	MaxTagLen         = 64
)

// Item describes one stored blob (an uploaded file or a clipboard entry).
// The blob itself lives in the storage backend under StorageKey.
type Item struct {
	// ID is assigned at creation and never reassigned.
	ID      string
	OwnerID string
	Kind    Kind

	// DisplayName is the user-facing name; mutable by rename.
	DisplayName string
	ContentType string

	// StorageKey locates the blob in the backend. Immutable; never reused.
	StorageKey string
	// IsEncrypted is fixed at creation from whether a key was configured.
	IsEncrypted bool
	// SizeBytes is the plaintext size.
	SizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	// ExpiresAt is nil if and only if Retain is true.
	ExpiresAt *time.Time
	Retain    bool

	Tags       []string
	Folder     *string
	IsFavorite bool
}

// SetRetain toggles retention and recomputes ExpiresAt from now, keeping
// the ExpiresAt/Retain invariant.
func (i *Item) SetRetain(retain bool, now time.Time, window time.Duration) {
	i.Retain = retain
	if retain {
		i.ExpiresAt = nil
		return
	}
	exp := now.UTC().Add(window)
	i.ExpiresAt = &exp
}

// Expired reports whether the sweeper may delete the item at now.
func (i *Item) Expired(now time.Time) bool {
	return !i.Retain && i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// Validate checks the invariants a row must satisfy before it is written.
func (i *Item) Validate() error {
	switch {
	case i.ID == "":
		return fmt.Errorf("item id is empty")
	case i.OwnerID == "":
		return fmt.Errorf("item owner is empty")
	case !i.Kind.Valid():
		return fmt.Errorf("item kind %q is invalid", i.Kind)
	case i.StorageKey == "":
		return fmt.Errorf("item storage key is empty")
	case i.SizeBytes < 0:
		return fmt.Errorf("item size is negative")
	case i.Retain && i.ExpiresAt != nil:
		return fmt.Errorf("retained item must not expire")
	case !i.Retain && i.ExpiresAt == nil:
		return fmt.Errorf("non-retained item must expire")
	}
	return nil
}

// NormalizeTags trims, lower-cases and de-duplicates tags, dropping empty
// ones and truncating each to MaxTagLen. Commas separate tags, so an input
// element may carry several. The result is sorted.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		for _, t := range strings.Split(raw, ",") {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			t = truncate(t, MaxTagLen)
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ParseTags splits a comma-separated tag list and normalizes it.
func ParseTags(raw string) []string {
	return NormalizeTags([]string{raw})
}

// NormalizeDisplayName trims name and falls back to a generated label when
// it is blank. Names are capped at MaxDisplayNameLen bytes.
func NormalizeDisplayName(name string, kind Kind, now time.Time) string {
	name = strings.TrimSpace(name)
	if name == "" {
		stamp := now.UTC().Format("20060102-150405")
		switch kind {
		case KindClipboardText:
			name = "clipboard-" + stamp + ".txt"
		case KindClipboardImage:
			name = "clipboard-" + stamp + ".png"
		default:
			name = "upload-" + stamp
		}
	}
	return truncate(name, MaxDisplayNameLen)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DefaultContentType returns the MIME type recorded when the caller does
// not supply one.
func DefaultContentType(kind Kind) string {
	switch kind {
	case KindClipboardText:
		return "text/plain; charset=utf-8"
	case KindClipboardImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
