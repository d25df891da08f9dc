package download

import (
	"archive/zip"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

const maxFilenameLen = 200

// knownExtensions are the tile formats the pipeline expects to place on disk.
var knownExtensions = []string{".tif", ".tiff", ".laz", ".las", ".copc.laz", ".zip"}

// SanitizeFilename strips characters that are illegal on common filesystems,
// removes control characters, and caps the length.
func SanitizeFilename(name string) string {
	const invalid = `<>:"/\|?*&`
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 32:
			// drop control characters
		case strings.ContainsRune(invalid, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxFilenameLen {
		ext := filepath.Ext(out)
		if len(ext) >= maxFilenameLen {
			ext = ""
		}
		out = out[:maxFilenameLen-len(ext)] + ext
	}
	return out
}

// DeriveFilename extracts a destination filename from the URL path, falling
// back to a Content-Disposition header when the path has none. Returns ""
// when no usable name can be derived.
func DeriveFilename(rawURL, contentDisposition string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			if name := SanitizeFilename(base); name != "" {
				return name
			}
		}
	}
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := SanitizeFilename(params["filename"]); name != "" {
				return name
			}
		}
	}
	return ""
}

// RandomFilename generates a fallback tile name with a sensible extension.
func RandomFilename() string {
	return "tile_" + randomHex(8) + ".tif"
}

// EnsureExtension appends a default extension when the name carries none of
// the expected tile formats.
func EnsureExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) {
			return name
		}
	}
	return name + ".tif"
}

// ValidateFile checks that a file looks like a complete download: it must
// exist, meet the minimum size, and archives must be readable end to end.
// Opaque binary tile formats get the size check only.
func ValidateFile(path string, minSize int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if fi.Size() < minSize {
		return fmt.Errorf("file too small: %d < %d bytes", fi.Size(), minSize)
	}
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return validateZip(path)
	}
	return nil
}

func validateZip(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("corrupted zip: %w", err)
	}
	defer func() { _ = zr.Close() }()
	if len(zr.File) == 0 {
		return errors.New("zip archive is empty")
	}
	return nil
}

// SafeRemove deletes a file with bounded retry, tolerating the transient
// lock errors some platforms produce on freshly-closed files.
func SafeRemove(path string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("remove %s: %w", path, lastErr)
}

// CheckDiskSpace verifies that the destination volume has at least
// requiredMB free. A failed probe is treated as OK: refusing to download
// because the disk could not be inspected helps nobody.
func CheckDiskSpace(dir string, requiredMB int64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		return nil
	}
	availMB := int64(usage.Free / (1 << 20))
	if availMB < requiredMB {
		return fmt.Errorf("insufficient disk space in %s: need %d MB, have %d MB", dir, requiredMB, availMB)
	}
	return nil
}
