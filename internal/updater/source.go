package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

// release is the part of a published release the service needs.
type release struct {
	Version     string
	Notes       string
	URL         string
	PublishedAt time.Time
	AssetSize   int
	// Newer reports whether the release is newer than the running version.
	Newer bool

	raw *selfupdate.Release
}

type source interface {
	Latest(ctx context.Context, current string) (release, bool, error)
	Install(ctx context.Context, rel release, exe string) error
}

type githubSource struct {
	updater *selfupdate.Updater
	repo    selfupdate.Repository
}

func newGitHubSource(slug string, prerelease bool) (*githubSource, error) {
	src, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	up, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     src,
		Prerelease: prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	return &githubSource{updater: up, repo: selfupdate.ParseSlug(slug)}, nil
}

func (g *githubSource) Latest(ctx context.Context, current string) (release, bool, error) {
	rel, found, err := g.updater.DetectLatest(ctx, g.repo)
	if err != nil || !found {
		return release{}, found, err
	}
	return release{
		Version:     rel.Version(),
		Notes:       rel.ReleaseNotes,
		URL:         rel.URL,
		PublishedAt: rel.PublishedAt,
		AssetSize:   rel.AssetByteSize,
		// Development builds have no comparable version.
		Newer: current == "dev" || rel.GreaterThan(current),
		raw:   rel,
	}, true, nil
}

func (g *githubSource) Install(ctx context.Context, rel release, exe string) error {
	if rel.raw == nil {
		return fmt.Errorf("release %s has no asset", rel.Version)
	}
	return g.updater.UpdateTo(ctx, rel.raw, exe)
}
