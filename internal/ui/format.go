// Package ui formats items for the clipdrop CLI.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/sweeper"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	faint  = color.New(color.Faint).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// Expiry describes when an item goes, relative to now.
func Expiry(it *models.Item, now time.Time) string {
	switch {
	case it.Retain:
		return "retained"
	case it.ExpiresAt == nil:
		return "unknown"
	case !it.ExpiresAt.After(now):
		return "expired"
	default:
		return "expires " + humanize.RelTime(*it.ExpiresAt, now, "ago", "from now")
	}
}

func FormatItemListItem(it *models.Item, now time.Time) string {
	var sb strings.Builder

	star := " "
	if it.IsFavorite {
		star = yellow("*")
	}
	fmt.Fprintf(&sb, "%s %s  %s  %s\n", star, faint(it.ID), bold(it.DisplayName), faint(humanize.IBytes(uint64(it.SizeBytes))))

	meta := []string{string(it.Kind)}
	if it.Folder != nil {
		meta = append(meta, "/"+*it.Folder)
	}
	if it.Retain {
		meta = append(meta, green(Expiry(it, now)))
	} else {
		meta = append(meta, Expiry(it, now))
	}
	fmt.Fprintf(&sb, "    %s\n", faint(strings.Join(meta, "  ")))

	if len(it.Tags) > 0 {
		fmt.Fprintf(&sb, "    %s %s\n", faint("Tags:"), cyan(strings.Join(it.Tags, ", ")))
	}
	return sb.String()
}

func FormatItemDetail(it *models.Item, now time.Time) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", bold(it.DisplayName))
	fmt.Fprintf(&sb, "%s %s\n", faint("ID:"), it.ID)
	fmt.Fprintf(&sb, "%s %s (%s)\n", faint("Kind:"), it.Kind, it.ContentType)
	fmt.Fprintf(&sb, "%s %s\n", faint("Size:"), humanize.IBytes(uint64(it.SizeBytes)))
	fmt.Fprintf(&sb, "%s %t\n", faint("Encrypted:"), it.IsEncrypted)
	fmt.Fprintf(&sb, "%s %s\n", faint("Created:"), it.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "%s %s\n", faint("Retention:"), Expiry(it, now))
	if it.Folder != nil {
		fmt.Fprintf(&sb, "%s /%s\n", faint("Folder:"), *it.Folder)
	}
	if len(it.Tags) > 0 {
		fmt.Fprintf(&sb, "%s %s\n", faint("Tags:"), cyan(strings.Join(it.Tags, ", ")))
	}
	return sb.String()
}

func FormatReport(r sweeper.Report) string {
	return fmt.Sprintf("swept %s candidates: %s deleted, %d skipped, %d failed (%s)",
		humanize.Comma(int64(r.Candidates)), green(r.Deleted), r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
}

func Success(msg string) string {
	return green("✓ ") + msg
}
