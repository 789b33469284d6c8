package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	gmotel "github.com/Strob0t/GowaManager/internal/adapter/otel"
	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/version"
	"github.com/Strob0t/GowaManager/internal/port/releases"
)

// VersionService downloads, caches and garbage-collects concrete versions of
// the GOWA binary under <data>/bin/versions/<tag>/.
type VersionService struct {
	data  config.Data
	index releases.Index

	mu sync.Mutex // serializes installs and removals
}

// NewVersionService creates the version manager.
func NewVersionService(data config.Data, index releases.Index) *VersionService {
	return &VersionService{data: data, index: index}
}

// BinaryName is the platform-dependent executable name.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return "gowa.exe"
	}
	return "gowa"
}

// BinaryPath returns where the executable of a concrete tag lives.
func (s *VersionService) BinaryPath(tag string) string {
	return filepath.Join(s.data.VersionsDir(), tag, BinaryName())
}

// legacyPath is the pre-multi-version entrypoint kept for compatibility.
func (s *VersionService) legacyPath() string {
	return filepath.Join(s.data.BinDir(), BinaryName())
}

// Resolve maps a version string to an executable path. "latest" resolves to
// the newest installed tag, falling back to the legacy path when no tags are
// installed. Returns domain.ErrVersionUnavailable when nothing usable exists.
func (s *VersionService) Resolve(v string) (string, error) {
	if v == "" || v == version.Latest {
		tags, err := s.installedTags()
		if err != nil {
			return "", err
		}
		if len(tags) > 0 {
			version.SortDescending(tags)
			return s.BinaryPath(tags[0]), nil
		}
		legacy := s.legacyPath()
		if fileExists(legacy) {
			return legacy, nil
		}
		return "", fmt.Errorf("%w: no version installed", domain.ErrVersionUnavailable)
	}

	path := s.BinaryPath(v)
	if !fileExists(path) {
		return "", fmt.Errorf("%w: %s", domain.ErrVersionUnavailable, v)
	}
	return path, nil
}

// IsInstalled reports whether a concrete tag has its executable on disk.
func (s *VersionService) IsInstalled(tag string) bool {
	return fileExists(s.BinaryPath(tag))
}

// Install resolves the requested version (or the remote head for "latest")
// against the release index and installs it. Returns the concrete tag that
// was installed. Installing an already-present tag is a no-op.
func (s *VersionService) Install(ctx context.Context, v string) (string, error) {
	ctx, span := gmotel.StartInstallSpan(ctx, v)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rel *releases.Release
		err error
	)
	if v == "" || v == version.Latest {
		rel, err = s.index.Latest(ctx)
	} else {
		rel, err = s.index.ByTag(ctx, v)
	}
	if err != nil {
		return "", fmt.Errorf("query release index: %w", err)
	}

	tag := rel.Tag
	final := s.BinaryPath(tag)
	if fileExists(final) {
		return tag, nil
	}

	asset, err := pickAsset(rel.Assets)
	if err != nil {
		return "", fmt.Errorf("release %s: %w", tag, err)
	}

	staging := filepath.Join(s.data.TempDir(), fmt.Sprintf("%s-%d", tag, time.Now().UnixMilli()))
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	archive := filepath.Join(staging, asset.Name)
	if err := s.fetch(ctx, asset, archive); err != nil {
		return "", err
	}

	extracted := filepath.Join(staging, "extracted")
	if err := extractZip(archive, extracted); err != nil {
		return "", fmt.Errorf("extract %s: %w", asset.Name, err)
	}

	bin, err := findBinary(extracted)
	if err != nil {
		return "", fmt.Errorf("locate executable in %s: %w", asset.Name, err)
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("create version dir: %w", err)
	}
	if err := moveFile(bin, final); err != nil {
		return "", fmt.Errorf("install executable: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(final, 0o755); err != nil {
			return "", fmt.Errorf("chmod executable: %w", err)
		}
	}

	s.refreshLegacyLink()

	slog.Info("version installed", "tag", tag, "path", final)
	return tag, nil
}

// Remove deletes an installed tag. The floating channel is not removable.
func (s *VersionService) Remove(tag string) error {
	if tag == version.Latest {
		return fmt.Errorf("%w: cannot remove the latest channel", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.data.VersionsDir(), tag)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: version %s", domain.ErrNotFound, tag)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", tag, err)
	}
	slog.Info("version removed", "tag", tag)
	return nil
}

// Installed enumerates on-disk versions, newest tag first, marking the
// newest as latest.
func (s *VersionService) Installed() ([]version.Version, error) {
	tags, err := s.installedTags()
	if err != nil {
		return nil, err
	}
	version.SortDescending(tags)

	out := make([]version.Version, 0, len(tags))
	for i, tag := range tags {
		v := version.Version{
			Version:   tag,
			Path:      s.BinaryPath(tag),
			Installed: true,
			IsLatest:  i == 0,
		}
		if info, err := os.Stat(v.Path); err == nil {
			v.Size = info.Size()
			mt := info.ModTime()
			v.InstalledAt = &mt
		}
		out = append(out, v)
	}
	return out, nil
}

// Available queries the release index, limits to n entries, and prepends a
// synthetic "latest" entry mirroring the head.
func (s *VersionService) Available(ctx context.Context, n int) ([]version.Version, error) {
	rels, err := s.index.List(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("query release index: %w", err)
	}

	out := make([]version.Version, 0, len(rels)+1)
	if len(rels) > 0 {
		head := rels[0].Tag
		out = append(out, version.Version{
			Version:   version.Latest,
			Path:      s.BinaryPath(head),
			Installed: s.IsInstalled(head),
			IsLatest:  true,
		})
	}
	for _, rel := range rels {
		out = append(out, version.Version{
			Version:   rel.Tag,
			Path:      s.BinaryPath(rel.Tag),
			Installed: s.IsInstalled(rel.Tag),
		})
	}
	return out, nil
}

// Cleanup removes all but the keep newest installed versions, ordered by
// install time. Returns the removed tags.
func (s *VersionService) Cleanup(keep int) ([]string, error) {
	if keep < 1 {
		keep = 3
	}

	installed, err := s.Installed()
	if err != nil {
		return nil, err
	}

	sort.Slice(installed, func(i, j int) bool {
		ti, tj := installed[i].InstalledAt, installed[j].InstalledAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})

	var removed []string
	for _, v := range installed[min(keep, len(installed)):] {
		if err := s.Remove(v.Version); err != nil {
			return removed, err
		}
		removed = append(removed, v.Version)
	}
	return removed, nil
}

// Usage returns the recursive on-disk size per installed tag.
func (s *VersionService) Usage() (map[string]int64, error) {
	tags, err := s.installedTags()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(tags))
	for _, tag := range tags {
		size, err := dirSize(filepath.Join(s.data.VersionsDir(), tag))
		if err != nil {
			return nil, err
		}
		out[tag] = size
	}
	return out, nil
}

// installedTags lists subdirectories of the versions dir that contain the
// executable.
func (s *VersionService) installedTags() ([]string, error) {
	entries, err := os.ReadDir(s.data.VersionsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read versions dir: %w", err)
	}

	var tags []string
	for _, e := range entries {
		if e.IsDir() && fileExists(filepath.Join(s.data.VersionsDir(), e.Name(), BinaryName())) {
			tags = append(tags, e.Name())
		}
	}
	return tags, nil
}

// refreshLegacyLink points bin/<binary> at the newest installed tag.
// Best-effort: platforms or filesystems without symlinks just skip it.
func (s *VersionService) refreshLegacyLink() {
	tags, err := s.installedTags()
	if err != nil || len(tags) == 0 {
		return
	}
	version.SortDescending(tags)

	link := s.legacyPath()
	_ = os.Remove(link)
	if err := os.Symlink(s.BinaryPath(tags[0]), link); err != nil {
		slog.Debug("legacy symlink refresh skipped", "error", err)
	}
}

// fetch downloads one asset to the given path.
func (s *VersionService) fetch(ctx context.Context, asset releases.Asset, dst string) error {
	body, err := s.index.Download(ctx, asset)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Asset selection and extraction
// ---------------------------------------------------------------------------

// pickAsset chooses the asset matching this platform: name contains
// "<os>_<arch>" and ends in ".zip".
func pickAsset(assets []releases.Asset) (releases.Asset, error) {
	want := runtime.GOOS + "_" + runtime.GOARCH
	for _, a := range assets {
		if strings.Contains(a.Name, want) && strings.HasSuffix(a.Name, ".zip") {
			return a, nil
		}
	}
	return releases.Asset{}, fmt.Errorf("no asset for %s", want)
}

// extractZip unpacks the archive into dir, refusing entries that escape it.
func extractZip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

// findBinary locates the executable among extracted files: the largest
// regular file with no extension, skipping README* and LICENSE*. Windows
// archives ship ".exe" files, which are the one dotted shape accepted.
func findBinary(dir string) (string, error) {
	var (
		best     string
		bestSize int64 = -1
	)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		upper := strings.ToUpper(name)
		if strings.HasPrefix(upper, "README") || strings.HasPrefix(upper, "LICENSE") {
			return nil
		}
		if strings.Contains(name, ".") && !strings.EqualFold(filepath.Ext(name), ".exe") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no executable candidate found")
	}
	return best, nil
}

// moveFile renames when possible and falls back to copy across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirSize walks a directory adding up regular file sizes.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}
