package metadata

import (
	"fmt"

	"musictransfer/internal/model"

	"go.senan.xyz/taglib"
)

// WriteTags writes the title, artist and album of md into the audio file at
// path. Empty fields are left alone.
func WriteTags(path string, md model.Metadata) error {
	tags := make(map[string][]string)

	if md.SongName != "" {
		tags[taglib.Title] = []string{md.SongName}
	}
	if md.ArtistName != "" {
		tags[taglib.Artist] = []string{md.ArtistName}
		tags[taglib.AlbumArtist] = []string{md.ArtistName}
	}
	if md.AlbumName != "" {
		tags[taglib.Album] = []string{md.AlbumName}
	}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("failed to write tags to %s: %w", path, err)
	}
	return nil
}

// ReadTags returns the first value of each tag in the file at path.
func ReadTags(path string) (map[string]string, error) {
	tags, err := taglib.ReadTags(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags from %s: %w", path, err)
	}

	out := make(map[string]string, len(tags))
	for k, vals := range tags {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out, nil
}

// WriteArtwork embeds cover image data into an audio file.
func WriteArtwork(path string, imageData []byte) error {
	if len(imageData) == 0 {
		return nil
	}
	if err := taglib.WriteImage(path, imageData); err != nil {
		return fmt.Errorf("failed to write artwork to %s: %w", path, err)
	}
	return nil
}
