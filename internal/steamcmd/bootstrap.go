package steamcmd

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DefaultDownloadURL is Valve's Linux SteamCMD bundle.
const DefaultDownloadURL = "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz"

const downloadTimeout = 2 * time.Minute

// EnsureSteamCMD makes sure steamcmd.sh exists at target, downloading and
// unpacking the bundle next to it when it does not.
func EnsureSteamCMD(ctx context.Context, target, downloadURL string) (string, error) {
	target, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if downloadURL == "" {
		downloadURL = DefaultDownloadURL
	}

	base := filepath.Dir(target)
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("failed to create steamcmd directory: %w", err)
	}

	log.Printf("[SteamCMD] Downloading %s", downloadURL)
	archive := filepath.Join(base, "steamcmd_linux.tar.gz")
	if err := downloadFile(ctx, downloadURL, archive); err != nil {
		return "", fmt.Errorf("failed to download steamcmd: %w", err)
	}
	defer os.Remove(archive)

	if err := untarGz(archive, base); err != nil {
		return "", fmt.Errorf("failed to unpack steamcmd: %w", err)
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("steamcmd bundle did not contain %s", filepath.Base(target))
	}
	_ = os.Chmod(target, 0755)

	log.Printf("[SteamCMD] Installed to %s", base)
	return target, nil
}

func downloadFile(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func untarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(dest) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0777)
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
		}
	}
	return nil
}
