package transfer

import "musictransfer/internal/model"

// File name conventions shared with anything else reading the roots.
// Final names are "<song name><ext>" with the song name passed through
// utils.SanitizeName, so path separators and characters reserved on common
// filesystems become "_" and an empty name becomes "unknown". A download in
// flight carries SuffixDownload on top of the final name.
const (
	ExtSong        = ".mp3"
	ExtMV          = ".mp4"
	ExtLyric       = ".lrc"
	SuffixDownload = ".download"
)

// Kind is the type of artifact a job fetches.
type Kind int

const (
	KindSong Kind = iota
	KindMV
	KindLyric
)

func (k Kind) String() string {
	switch k {
	case KindSong:
		return "song"
	case KindMV:
		return "mv"
	case KindLyric:
		return "lyric"
	default:
		return "unknown"
	}
}

// Extension returns the final extension for a file of kind k.
// Songs use the resolved format, falling back to ExtSong.
func (k Kind) Extension(md model.Metadata) string {
	switch k {
	case KindMV:
		return ExtMV
	case KindLyric:
		return ExtLyric
	default:
		if md.FilePostfix == "" {
			return ExtSong
		}
		return "." + md.FilePostfix
	}
}

// SourceURL picks the URL a job of kind k downloads from.
func (k Kind) SourceURL(md model.Metadata) string {
	if k == KindLyric {
		return md.LrcURL
	}
	return md.SongURL
}

// ErrorPolicy decides where a job's failure is reported.
type ErrorPolicy int

const (
	// PolicyReport delivers failures to the job's OnError continuation.
	PolicyReport ErrorPolicy = iota
	// PolicyBestEffort hands failures to the Suppressed hook instead.
	// Companion jobs use it so their outcome never reaches the caller.
	PolicyBestEffort
)

func (p ErrorPolicy) String() string {
	if p == PolicyBestEffort {
		return "best-effort"
	}
	return "report"
}
