// Package importer adds cards written as markdown notes, from local
// directories or git repositories, to the card store.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/flashsync/internal/cardstore"
	"github.com/conorfennell/flashsync/internal/domain"
	"github.com/conorfennell/flashsync/internal/gitsource"
	"github.com/conorfennell/flashsync/internal/knol"
	"github.com/conorfennell/flashsync/internal/parser"
	"github.com/conorfennell/flashsync/internal/storage"
)

// Registry remembers which sources have been imported. storage.DB is one.
type Registry interface {
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	MarkScanned(ctx context.Context, path string) error
}

// Report summarises the import of one source.
type Report struct {
	Source  string
	Parsed  int
	Added   int
	Skipped int
	Errors  []error
}

type Importer struct {
	handle   *cardstore.Handle
	registry Registry
	reposDir string
	log      *slog.Logger
}

// New returns an importer that checks out git sources under reposDir. A nil
// registry means sources are not remembered between runs.
func New(h *cardstore.Handle, registry Registry, reposDir string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{handle: h, registry: registry, reposDir: reposDir, log: logger}
}

// Run imports every registered source plus extra. A source that fails is
// logged and skipped.
func (im *Importer) Run(ctx context.Context, extra []string) ([]Report, error) {
	var sources []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}
	if im.registry != nil {
		registered, err := im.registry.GetAllSources(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range registered {
			add(s.Path)
		}
	}
	for _, s := range extra {
		add(s)
	}

	if len(sources) == 0 {
		im.log.Info("no sources configured")
		return nil, nil
	}

	var reports []Report
	for _, src := range sources {
		r, err := im.Import(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			im.log.Error("import failed", "source", src, "err", err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Import reads one source and adds a card for every note whose front is not
// already tracked or marked known, and whose content is not already present.
func (im *Importer) Import(ctx context.Context, source string) (Report, error) {
	report := Report{Source: source}

	dir := source
	if gitsource.IsURL(source) {
		local, err := gitsource.LocalPath(im.reposDir, source)
		if err != nil {
			return report, err
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return report, fmt.Errorf("failed to create repos directory: %w", err)
		}
		if err := gitsource.Sync(ctx, source, local, im.log); err != nil {
			return report, err
		}
		dir = local
	}

	notes, errs := collect(dir)
	report.Parsed = len(notes)
	report.Errors = errs
	if len(notes) == 0 && len(errs) > 0 {
		return report, errs[0]
	}

	_, err := im.handle.Update(ctx, func(cur *domain.Store) (*domain.Store, error) {
		report.Added, report.Skipped = 0, 0
		present := make(map[string]bool, len(cur.Flashcards))
		for _, c := range cur.Flashcards {
			present[knol.Hash(c.Content)] = true
		}

		next := cur
		now := im.handle.Now()
		for _, content := range notes {
			h := knol.Hash(content)
			if present[h] || cardstore.IsKnown(next, content.Front) {
				report.Skipped++
				continue
			}
			next, _ = cardstore.AddCard(next, content, now)
			present[h] = true
			report.Added++
		}
		if report.Added == 0 {
			return nil, nil
		}
		return next, nil
	})
	if err != nil {
		return report, err
	}

	if im.registry != nil {
		if err := im.registry.MarkScanned(ctx, source); err != nil {
			im.log.Warn("failed to record source", "source", source, "err", err)
		}
	}
	im.log.Info("import complete",
		"source", source,
		"parsed", report.Parsed,
		"added", report.Added,
		"skipped", report.Skipped,
		"errors", len(report.Errors),
	)
	return report, nil
}

// collect parses every markdown file under dir.
func collect(dir string) ([]domain.Content, []error) {
	var (
		notes []domain.Content
		errs  []error
	)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		cards, err := parser.ParseFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing %s: %w", path, err))
			return nil
		}
		notes = append(notes, cards...)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walking %s: %w", dir, walkErr))
	}
	return notes, errs
}
