package catalog

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ThumbnailPrefix is the public URL path thumbnails are served under.
const ThumbnailPrefix = "/games/thumbnails/"

var errMissingFields = errors.New("missing id, title or type")

// Clean drops records that no longer satisfy the catalog rules: required
// fields present, title within bounds, embed URL still accepted by scorer,
// local path present. Duplicates are then removed with Dedupe.
func Clean(records []Record, scorer EmbedScorer) ([]Record, []Skip) {
	var (
		kept    []Record
		skipped []Skip
	)

	for _, r := range records {
		if err := checkRecord(r, scorer); err != nil {
			skipped = append(skipped, Skip{Title: r.Title, URL: r.Location(), Reason: err.Error()})
			continue
		}
		kept = append(kept, r)
	}

	kept, dups := Dedupe(kept)
	return kept, append(skipped, dups...)
}

func checkRecord(r Record, scorer EmbedScorer) error {
	if r.ID == "" || r.Title == "" || r.Kind == "" {
		return errMissingFields
	}
	if !ValidTitle(r.Title) {
		return ErrInvalidTitle
	}

	switch r.Kind {
	case KindEmbedded:
		if r.EmbedURL == "" {
			return ErrNoLocation
		}
		_, _, err := resolveLocation(r.EmbedURL, "", "", scorer)
		return err
	case KindLocal:
		if r.LocalPath == "" {
			return ErrNoLocation
		}
		return nil
	default:
		return ErrUnknownKind
	}
}

// Dedupe keeps the first record for each case-insensitive title and each
// location.
func Dedupe(records []Record) ([]Record, []Skip) {
	var (
		kept    []Record
		skipped []Skip
	)

	ix := newIndex(nil)
	for _, r := range records {
		if err := ix.conflict(r.Title, r.Location()); err != nil {
			skipped = append(skipped, Skip{Title: r.Title, URL: r.Location(), Reason: err.Error()})
			continue
		}
		ix.add(r)
		kept = append(kept, r)
	}

	return kept, skipped
}

var thumbnailExts = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// FixThumbnails points each record at a thumbnail file in dir named after
// its id when one exists. Records referring to a missing local thumbnail,
// or to none, get DefaultThumbnail. Remote thumbnails are left alone. It
// returns the updated records and how many changed.
func FixThumbnails(records []Record, dir string) ([]Record, int) {
	out := make([]Record, len(records))
	changed := 0

	for i, r := range records {
		thumb := r.Thumbnail

		found := false
		for _, ext := range thumbnailExts {
			if fileExists(filepath.Join(dir, r.ID+ext)) {
				thumb = path.Join(ThumbnailPrefix, r.ID+ext)
				found = true
				break
			}
		}

		if !found {
			switch {
			case thumb == "":
				thumb = DefaultThumbnail
			case strings.HasPrefix(thumb, ThumbnailPrefix) && thumb != DefaultThumbnail:
				name := strings.TrimPrefix(thumb, ThumbnailPrefix)
				if !fileExists(filepath.Join(dir, filepath.FromSlash(name))) {
					thumb = DefaultThumbnail
				}
			}
		}

		if thumb != r.Thumbnail {
			changed++
			r.Thumbnail = thumb
		}
		out[i] = r
	}

	return out, changed
}
