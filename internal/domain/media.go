package domain

import (
	"path"
	"strings"
)

// MediaKind classifies a media reference or local file into the closed
// set of shapes the pipeline knows how to handle.
type MediaKind string

const (
	KindImage          MediaKind = "image"
	KindVideo          MediaKind = "video"
	KindAnimatedImage  MediaKind = "animated_image"
	KindVideoWithAudio MediaKind = "video_with_audio"
	KindUnsupported    MediaKind = "unsupported"
)

var extKinds = map[string]MediaKind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
	".gif":  KindAnimatedImage,
	".mp4":  KindVideo,
}

// ClassifyURL determines the media kind of a URL from its path
// extension. Query parameters are ignored.
func ClassifyURL(rawURL string) MediaKind {
	trimmed := rawURL
	if idx := strings.IndexByte(trimmed, '?'); idx != -1 {
		trimmed = trimmed[:idx]
	}
	return classifyExt(path.Ext(trimmed))
}

// ClassifyFile determines the media kind of a local file from its
// extension.
func ClassifyFile(filePath string) MediaKind {
	return classifyExt(path.Ext(filePath))
}

func classifyExt(ext string) MediaKind {
	if kind, ok := extKinds[strings.ToLower(ext)]; ok {
		return kind
	}
	return KindUnsupported
}

// BaseFilename extracts the final path element of a URL with query
// parameters stripped, suitable for deriving scratch filenames.
func BaseFilename(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexByte(trimmed, '?'); idx != -1 {
		trimmed = trimmed[:idx]
	}
	return path.Base(trimmed)
}
