package autofilter

import (
	"strings"

	"github.com/DuyNguyen1879/autofilter/data"
)

// Request weights. Static assets are nearly free, redirects and plain page
// hits count full, queries and POSTs count extra because they usually hit
// the application instead of the file system.
const (
	WeightAsset    = 1
	WeightDefault  = 10
	WeightRedirect = 10
	WeightArgs     = 20
	WeightPost     = 30
)

// staticExtensions is the frozen set of URI extensions that earn the asset
// weight. Changing it changes what every limit in every deployed policy
// means, so it is not configurable.
var staticExtensions = map[string]bool{
	// text and data
	"css": true, "map": true, "js": true, "json": true, "xml": true,
	"csv": true, "txt": true, "pdf": true,
	// archives
	"zip": true, "gz": true, "tgz": true, "bz2": true, "xz": true,
	"7z": true, "rar": true, "tar": true,
	// office documents
	"doc": true, "docx": true, "xls": true, "xlsx": true,
	"ppt": true, "pptx": true, "odt": true, "ods": true, "odp": true,
	// images
	"ico": true, "gif": true, "jpg": true, "jpeg": true, "png": true,
	"webp": true, "svg": true, "bmp": true, "tif": true, "tiff": true,
	// fonts
	"woff": true, "woff2": true, "ttf": true, "otf": true, "eot": true,
	// audio and video
	"mp3": true, "ogg": true, "wav": true, "flac": true, "m4a": true,
	"mp4": true, "m4v": true, "webm": true, "avi": true, "mov": true,
	"mpg": true, "mpeg": true, "mkv": true, "wmv": true,
}

// Weigh assigns the load weight for a single request. First match wins:
// static asset, redirect status, POST, query string, default.
func Weigh(l *data.Line) int64 {
	path := strings.ToLower(l.URI)
	isArgs := false
	if idx := strings.Index(path, "?"); idx >= 0 {
		isArgs = true
		path = path[:idx]
	}

	if idx := strings.LastIndex(path, "."); idx >= 0 {
		if staticExtensions[path[idx+1:]] {
			return WeightAsset
		}
	}

	if strings.HasPrefix(l.Status, "3") {
		return WeightRedirect
	}

	if l.Method == "POST" {
		return WeightPost
	}

	if isArgs {
		return WeightArgs
	}

	return WeightDefault
}
