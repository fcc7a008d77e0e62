package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveInfo describes an archive written by createArchive.
type ArchiveInfo struct {
	Files int
	Bytes int64
}

// excluded reports whether rel (slash separated, relative to the archive
// root) matches one of the patterns, either as a whole path or by base name.
func excluded(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(strings.TrimSpace(pattern), "/")
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// createArchive writes sourceDir as a tar stream into w. Entries are stored
// relative to sourceDir; symlinks are stored as links, not followed.
func createArchive(w io.Writer, sourceDir string, exclude []string, compression CompressionConfig) (*ArchiveInfo, error) {
	cw, err := compressWriter(w, compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	tw := tar.NewWriter(cw)
	info := &ArchiveInfo{}

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !fi.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		info.Files++
		info.Bytes += n
		return nil
	})
	if walkErr != nil {
		tw.Close()
		cw.Close()
		return nil, walkErr
	}

	if err := tw.Close(); err != nil {
		cw.Close()
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}
	return info, nil
}

// extractArchive unpacks a tar stream into destDir, rejecting entries that
// would land outside it.
func extractArchive(r io.Reader, destDir string, compression CompressionConfig) error {
	dr, err := decompressReader(r, compression)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer dr.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	root := filepath.Clean(destDir) + string(os.PathSeparator)

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, hdr.Name)
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, destDir)
		}
		mode := os.FileMode(hdr.Mode) & os.ModePerm

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}
