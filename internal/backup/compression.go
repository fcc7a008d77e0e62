package backup

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressionConfig controls archive compression
// Type values: "gzip", "none"
type CompressionConfig struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

func normalizeCompression(config CompressionConfig) CompressionConfig {
	compressionType := strings.ToLower(strings.TrimSpace(config.Type))
	if compressionType != "none" {
		compressionType = "gzip"
	}

	level := config.Level
	switch {
	case level == 0:
		level = gzip.DefaultCompression
	case level < gzip.BestSpeed:
		level = gzip.BestSpeed
	case level > gzip.BestCompression:
		level = gzip.BestCompression
	}

	return CompressionConfig{Type: compressionType, Level: level}
}

func archiveExtension(config CompressionConfig) string {
	if normalizeCompression(config).Type == "none" {
		return ".tar"
	}
	return ".tar.gz"
}

func compressionFromFilename(filename string) CompressionConfig {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar") {
		return CompressionConfig{Type: "none"}
	}
	return CompressionConfig{Type: "gzip"}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps w according to config. Closing it flushes the
// compressor but leaves w open.
func compressWriter(w io.Writer, config CompressionConfig) (io.WriteCloser, error) {
	config = normalizeCompression(config)
	if config.Type == "none" {
		return nopWriteCloser{w}, nil
	}
	return gzip.NewWriterLevel(w, config.Level)
}

func decompressReader(r io.Reader, config CompressionConfig) (io.ReadCloser, error) {
	if normalizeCompression(config).Type == "none" {
		return io.NopCloser(r), nil
	}
	return gzip.NewReader(r)
}
