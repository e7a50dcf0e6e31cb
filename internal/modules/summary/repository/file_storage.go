package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"tg-assistant/internal/modules/summary/domain"
)

const summaryTimeLayout = "2006-01-02_15-04"

// FileStorage stores one markdown file per completed digest under
// <data_dir>/summaries, named by generation timestamp.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the summaries directory under dataDir.
func NewFileStorage(dataDir string) (*FileStorage, error) {
	dir := filepath.Join(dataDir, "summaries")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, oops.With("dir", dir, "context", "failed to create summaries directory").Wrap(err)
	}
	return &FileStorage{dir: dir}, nil
}

// Save renders the digest to markdown and writes it. Returns the file path.
func (s *FileStorage) Save(summary *domain.FullSummary) (string, error) {
	name := summary.GeneratedAt.Format(summaryTimeLayout) + ".md"
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, []byte(toMarkdown(summary)), 0644); err != nil {
		return "", oops.With("path", path, "context", "failed to write summary").Wrap(err)
	}
	return path, nil
}

// Recent returns up to limit stored digests, newest first.
func (s *FileStorage) Recent(limit int) ([]domain.StoredSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, oops.With("dir", s.dir, "context", "failed to read summaries directory").Wrap(err)
	}

	stored := lo.FilterMap(entries, func(entry os.DirEntry, _ int) (domain.StoredSummary, bool) {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			return domain.StoredSummary{}, false
		}

		name := strings.TrimSuffix(entry.Name(), ".md")
		generatedAt, err := time.ParseInLocation(summaryTimeLayout, name, time.Local)
		if err != nil {
			return domain.StoredSummary{}, false
		}

		content, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return domain.StoredSummary{}, false
		}

		return domain.StoredSummary{
			Name:        entry.Name(),
			GeneratedAt: generatedAt,
			Content:     string(content),
		}, true
	})

	sort.Slice(stored, func(i, j int) bool {
		return stored[i].GeneratedAt.After(stored[j].GeneratedAt)
	})
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	return stored, nil
}

// Cleanup removes digests older than keepDays. Returns how many were removed.
func (s *FileStorage) Cleanup(keepDays int) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, oops.With("dir", s.dir, "context", "failed to read summaries directory").Wrap(err)
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		generatedAt, err := time.ParseInLocation(summaryTimeLayout, strings.TrimSuffix(entry.Name(), ".md"), time.Local)
		if err != nil {
			continue
		}
		if generatedAt.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func toMarkdown(summary *domain.FullSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Summary %s\n\n", summary.GeneratedAt.Format("2006-01-02 15:04"))
	b.WriteString("## Overview\n\n")
	b.WriteString(htmlToMarkdown(summary.Aggregate))
	b.WriteString("\n\n---\n\n## Per-Chat Details\n\n")

	for _, chat := range summary.Chats {
		fmt.Fprintf(&b, "### %s\n", chat.ChatName)
		fmt.Fprintf(&b, "- **Priority:** %s\n", chat.Priority)
		fmt.Fprintf(&b, "- **Messages:** %d\n\n", chat.MessageCount)
		b.WriteString(htmlToMarkdown(chat.Summary))
		b.WriteString("\n\n")

		if len(chat.Actions) > 0 {
			b.WriteString("**Actions:**\n")
			for _, action := range chat.Actions {
				fmt.Fprintf(&b, "- %s\n", action)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

var htmlReplacer = strings.NewReplacer(
	"<b>", "**",
	"</b>", "**",
	"<i>", "_",
	"</i>", "_",
	"&lt;", "<",
	"&gt;", ">",
)

func htmlToMarkdown(text string) string {
	return htmlReplacer.Replace(text)
}
