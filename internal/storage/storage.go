package storage

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/shiftcal/ota-server/internal/pkg/filehash"
)

const (
	assetsDir  = "assets"
	patchesDir = "patches"

	// AssetRoutePath is the relative locator embedded in manifests;
	// the handler serving it rewrites nothing, so this must match the
	// registered asset route.
	AssetRoutePath = "/api/assets"
)

var (
	ErrInvalidFileName = errors.New("invalid file name")

	extensionCleaner = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Storage is the durable content-addressed store for assets and generated
// patches. Identical bytes always map to the same filename, so concurrent
// writers racing on one file produce byte-identical output and the
// check-exists-else-write sequence is safe without locking.
type Storage struct {
	RootDir string
}

func New(rootDir string) (*Storage, error) {
	s := &Storage{RootDir: rootDir}
	for _, dir := range []string{s.AssetDir(), s.PatchDir()} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "failed to create storage directory %s", dir)
		}
	}
	return s, nil
}

func (s *Storage) AssetDir() string {
	return filepath.Join(s.RootDir, assetsDir)
}

func (s *Storage) PatchDir() string {
	return filepath.Join(s.RootDir, patchesDir)
}

// NormalizeExtension lowercases an extension and strips everything but
// alphanumerics; a surviving extension gets a leading dot.
func NormalizeExtension(extension string) string {
	cleaned := extensionCleaner.ReplaceAllString(strings.TrimPrefix(extension, "."), "")
	if cleaned == "" {
		return ""
	}
	return "." + strings.ToLower(cleaned)
}

func sanitizeFileName(name string) (string, error) {
	if name == "" ||
		strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return "", errors.Wrapf(ErrInvalidFileName, "%q", name)
	}
	return name, nil
}

type StoredAsset struct {
	Hash        string
	FileName    string
	RelativeURL string
}

// StoreAsset content-addresses the bytes into the asset directory. Storing
// the same content twice reuses the existing file.
func (s *Storage) StoreAsset(content []byte, extension string) (StoredAsset, error) {
	hash := filehash.Sum(content)
	fileName := hash + NormalizeExtension(extension)
	absolutePath := filepath.Join(s.AssetDir(), fileName)

	if _, err := os.Stat(absolutePath); err != nil {
		if !os.IsNotExist(err) {
			return StoredAsset{}, errors.Wrapf(err, "failed to stat asset %s", fileName)
		}
		if err := os.WriteFile(absolutePath, content, 0o644); err != nil {
			return StoredAsset{}, errors.Wrapf(err, "failed to write asset %s", fileName)
		}
	}

	return StoredAsset{
		Hash:        hash,
		FileName:    fileName,
		RelativeURL: AssetRoutePath + "?file=" + url.QueryEscape(fileName),
	}, nil
}

func (s *Storage) AssetPath(fileName string) (string, error) {
	clean, err := sanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.AssetDir(), clean), nil
}

func (s *Storage) AssetExists(fileName string) (bool, error) {
	path, err := s.AssetPath(fileName)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// StatAsset returns the asset's size in bytes.
func (s *Storage) StatAsset(fileName string) (int64, error) {
	path, err := s.AssetPath(fileName)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *Storage) ReadAsset(fileName string) ([]byte, error) {
	path, err := s.AssetPath(fileName)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteAsset removes a stored file; a missing file is reported as
// (false, nil) so deletion stays idempotent.
func (s *Storage) DeleteAsset(fileName string) (bool, error) {
	path, err := s.AssetPath(fileName)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PatchPath is the cache location for the delta keyed by the ordered
// (base, requested) update id pair.
func (s *Storage) PatchPath(baseUpdateID, requestedUpdateID string) string {
	return filepath.Join(s.PatchDir(), baseUpdateID+"_"+requestedUpdateID+".patch")
}

// StatPatch returns the cached patch size, or an os.IsNotExist error on a
// cache miss.
func (s *Storage) StatPatch(baseUpdateID, requestedUpdateID string) (int64, error) {
	path := s.PatchPath(baseUpdateID, requestedUpdateID)
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, errors.Errorf("patch %s is not a regular file", path)
	}
	return info.Size(), nil
}

// TempPatchPath is a per-attempt scratch path next to the final cache entry
// so a rename commits the patch atomically. Concurrent generators for the
// same pair both succeed; last writer wins on the cache file.
func (s *Storage) TempPatchPath(baseUpdateID, requestedUpdateID string, nonce string) string {
	return s.PatchPath(baseUpdateID, requestedUpdateID) + "." + nonce + ".tmp"
}

// CommitPatch publishes a generated patch into the cache.
func (s *Storage) CommitPatch(tempPath, baseUpdateID, requestedUpdateID string) error {
	return os.Rename(tempPath, s.PatchPath(baseUpdateID, requestedUpdateID))
}

// DeletePatchesFor drops every cached patch whose base or requested side is
// the given update. Patches are regenerable, so failures are reported as
// warnings by the caller rather than errors.
func (s *Storage) DeletePatchesFor(updateID string) (int, []string) {
	entries, err := os.ReadDir(s.PatchDir())
	if err != nil {
		return 0, []string{err.Error()}
	}

	var (
		deleted  int
		warnings []string
	)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".patch") {
			continue
		}
		pair := strings.TrimSuffix(name, ".patch")
		base, requested, ok := strings.Cut(pair, "_")
		if !ok || (base != updateID && requested != updateID) {
			continue
		}
		if err := os.Remove(filepath.Join(s.PatchDir(), name)); err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		deleted++
	}
	return deleted, warnings
}

// ExtractFileName pulls the stored filename out of a manifest asset URL,
// which embeds it as the file query parameter. Returns "" when the URL does
// not reference this store.
func ExtractFileName(assetURL string) string {
	if assetURL == "" {
		return ""
	}
	parsed, err := url.Parse(assetURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("file")
}
