// ABOUTME: Line-based comparison of two versions of a prompt
// ABOUTME: Produces grouped change hunks, a summary and a unified diff text

package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/2389/prompt-forge/internal/store"
)

// Change operations reported in a LineChange.
const (
	OpAdded   = "added"
	OpRemoved = "removed"
	OpChanged = "changed"
)

// LineChange is one contiguous hunk that differs between two versions.
// Line numbers are 1-based; FromLine is where the hunk starts in the old
// content and ToLine where it starts in the new.
type LineChange struct {
	Op       string   `json:"op"`
	FromLine int      `json:"from_line"`
	ToLine   int      `json:"to_line"`
	Removed  []string `json:"removed,omitempty"`
	Added    []string `json:"added,omitempty"`
}

// DiffSummary counts lines and hunks.
type DiffSummary struct {
	LinesAdded   int  `json:"lines_added"`
	LinesRemoved int  `json:"lines_removed"`
	Hunks        int  `json:"hunks"`
	Identical    bool `json:"identical"`
}

// VersionDiff compares two versions of one prompt.
type VersionDiff struct {
	Prompt      *store.Prompt
	FromVersion int
	ToVersion   int
	Changes     []LineChange
	Summary     DiffSummary
	Unified     string
}

// Diff compares versions from and to ("latest" or a number) of the prompt with slug.
func (s *Service) Diff(ctx context.Context, slug, from, to string) (*VersionDiff, error) {
	fromN, err := ParseVersionRef(from)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	toN, err := ParseVersionRef(to)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	a, err := s.resolveVersion(ctx, p, fromN, from)
	if err != nil {
		return nil, err
	}
	b, err := s.resolveVersion(ctx, p, toN, to)
	if err != nil {
		return nil, err
	}

	changes, summary := diffLines(a.Content, b.Content)
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        unifiedLines(a.Content),
		B:        unifiedLines(b.Content),
		FromFile: fmt.Sprintf("%s@%d", p.Slug, a.Version),
		ToFile:   fmt.Sprintf("%s@%d", p.Slug, b.Version),
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering unified diff: %w", err)
	}

	return &VersionDiff{
		Prompt:      p,
		FromVersion: a.Version,
		ToVersion:   b.Version,
		Changes:     changes,
		Summary:     summary,
		Unified:     unified,
	}, nil
}

func diffLines(from, to string) ([]LineChange, DiffSummary) {
	a := splitContent(from)
	b := splitContent(to)

	changes := []LineChange{}
	var summary DiffSummary
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		var c LineChange
		switch op.Tag {
		case 'e':
			continue
		case 'i':
			c.Op = OpAdded
		case 'd':
			c.Op = OpRemoved
		case 'r':
			c.Op = OpChanged
		}
		c.FromLine = op.I1 + 1
		c.ToLine = op.J1 + 1
		if op.I2 > op.I1 {
			c.Removed = a[op.I1:op.I2]
		}
		if op.J2 > op.J1 {
			c.Added = b[op.J1:op.J2]
		}
		summary.LinesRemoved += len(c.Removed)
		summary.LinesAdded += len(c.Added)
		changes = append(changes, c)
	}
	summary.Hunks = len(changes)
	summary.Identical = len(changes) == 0
	return changes, summary
}

// splitContent splits content into lines without their terminators.
// Empty content has no lines.
func splitContent(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

func unifiedLines(content string) []string {
	if content == "" {
		return nil
	}
	return difflib.SplitLines(content)
}
