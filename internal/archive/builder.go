// Package archive assembles the per-job zip of successful screenshots.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapfeed/postshot/internal/capture"
)

// ErrNoImages indicates the job finished without a single successful
// capture; no archive is produced and the job keeps no zip path.
var ErrNoImages = fmt.Errorf("no successful images to archive")

// Build writes every successful screenshot of the job snapshot into a
// single zip at outputPath, in item index order. Entry names come from the
// item's derived filename (or the image's base name), deduplicated with an
// incrementing numeric suffix. Returns the archive path.
//
// Build assumes the caller holds the job's build lock; it is not safe to
// run twice concurrently for the same output path.
func Build(job capture.Job, outputPath string) (string, error) {
	var selected []capture.Item
	for _, item := range job.Items {
		if item.Status == capture.ItemStatusSuccess && item.ImagePath != "" {
			selected = append(selected, item)
		}
	}
	if len(selected) == 0 {
		return "", ErrNoImages
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	used := make(map[string]struct{}, len(selected))
	for _, item := range selected {
		name := item.FileName
		if name == "" {
			name = filepath.Base(item.ImagePath)
		}
		entry := dedupeName(name, used)
		if err := addFile(zw, item.ImagePath, entry); err != nil {
			zw.Close()
			out.Close()
			os.Remove(outputPath)
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(outputPath)
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return outputPath, nil
}

func addFile(zw *zip.Writer, path, entryName string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.Create(entryName)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", entryName, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write entry %s: %w", entryName, err)
	}
	return nil
}

// dedupeName keeps the first occurrence bare and suffixes later collisions
// as name-2.png, name-3.png, and so on.
func dedupeName(fileName string, used map[string]struct{}) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".png"
	}
	base := strings.TrimSuffix(filepath.Base(fileName), ext)

	candidate := base + ext
	for counter := 2; ; counter++ {
		if _, taken := used[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s-%d%s", base, counter, ext)
	}
	used[candidate] = struct{}{}
	return candidate
}
