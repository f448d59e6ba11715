package version

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Version holds the current build version. Override with
// -ldflags "-X github.com/ilyanovopashin/whisper-gui/internal/version.Version=v1.2.3".
var Version = "dev"

const (
	separator = "────────────────────────────────────────────────────────────"
	banner    = `
          _     _                                      _
 __      _| |__ (_)___ _ __   ___ _ __       __ _ _   _(_)
 \ \ /\ / / '_ \| / __| '_ \ / _ \ '__|____ / _' | | | | |
  \ V  V /| | | | \__ \ |_) |  __/ | |_____| (_| | |_| | |
   \_/\_/ |_| |_|_|___/ .__/ \___|_|        \__, |\__,_|_|
                      |_|                   |___/
`
)

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the decorated banner and version info to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, Banner())
	fmt.Fprintf(w, "\n  whisper-gui %s\n", Version)
	fmt.Fprintf(w, "  Transcription Job Service\n")
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
}
