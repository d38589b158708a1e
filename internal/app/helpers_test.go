package app

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"horse.fit/rankwatch/internal/store"
)

func TestDescribeLoadError(t *testing.T) {
	t.Parallel()

	if got := describeLoadError("pl-1", store.ErrNotFound); got != "Playlist pl-1 not found" {
		t.Fatalf("unexpected not-found message: %q", got)
	}
	wrapped := fmt.Errorf("reload under lock: %w", store.ErrNotFound)
	if got := describeLoadError("pl-1", wrapped); got != "Playlist pl-1 not found" {
		t.Fatalf("expected wrapped not-found to keep the not-found wording, got %q", got)
	}
	if got := describeLoadError("pl-1", errors.New("dial tcp: refused")); !strings.HasPrefix(got, "Failed to load playlist:") {
		t.Fatalf("unexpected generic failure message: %q", got)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if format, err := parseOutputFormat(" JSON ", outputFormatTable); err != nil || format != outputFormatJSON {
		t.Fatalf("expected json, got %q (%v)", format, err)
	}
	if format, err := parseOutputFormat("", outputFormatTable); err != nil || format != outputFormatTable {
		t.Fatalf("expected default table, got %q (%v)", format, err)
	}
	if _, err := parseOutputFormat("yaml", outputFormatTable); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
