// Package clipboard bridges the OS clipboard and the record store. It
// captures changes into records, writes records back on paste, and keeps the
// two from echoing into each other.
package clipboard

import "context"

// Clipboard abstracts the OS clipboard. The production implementation shells
// out to wl-clipboard or xclip; tests use MockClipboard.
type Clipboard interface {
	// Targets lists the MIME types currently offered by the clipboard owner.
	Targets(ctx context.Context) ([]string, error)

	// Read returns the clipboard contents for one target.
	Read(ctx context.Context, target string) ([]byte, error)

	// Write takes clipboard ownership and offers data under the given target.
	Write(ctx context.Context, target string, data []byte) error

	// Watch emits an empty struct whenever the clipboard may have changed.
	// The channel closes when ctx is done.
	Watch(ctx context.Context) <-chan struct{}
}

// MarkerTarget is a synthetic MIME some peers attach on paste; its presence
// among the targets means the change came from a sibling agent.
const MarkerTarget = "text/clippy"

// targetPriority is the capture selection order.
var targetPriority = []string{
	"image/png",
	"image/jpeg",
	"image/jxl",
	"image/tiff",
	"image/bmp",
	"text/plain;charset=utf-8",
	"text/plain",
	"STRING",
	"UTF8_STRING",
	"text/uri-list",
}

// pickTarget returns the highest-priority target present, or "".
func pickTarget(offered []string) string {
	present := make(map[string]struct{}, len(offered))
	for _, t := range offered {
		present[t] = struct{}{}
	}
	for _, t := range targetPriority {
		if _, ok := present[t]; ok {
			return t
		}
	}
	return ""
}

func isImageTarget(target string) bool {
	return len(target) > 6 && target[:6] == "image/"
}

// normalizeTyp maps the X11 string aliases onto a real MIME type.
func normalizeTyp(target string) string {
	switch target {
	case "STRING", "UTF8_STRING", "text/plain;charset=utf-8":
		return "text/plain"
	default:
		return target
	}
}
