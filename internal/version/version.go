package version

import "fmt"

const (
	Version = "v0.1.0"

	colorReset    = "\033[0m"
	colorCyanBold = "\033[36;1m"
)

// asciiArtTpl returns the ASCII art of xapibench.
func asciiArtTpl() string {
	asciiArt := `
               _   _                  _
__  ____ _ _ __ (_) | |__   ___ _ __   ___| |__
\ \/ / _` + "`" + ` | '_ \| | | '_ \ / _ \ '_ \ / __| '_ \
 >  < (_| | |_) | | | |_) |  __/ | | | (__| | | |
/_/\_\__,_| .__/|_| |_.__/ \___|_| |_|\___|_| |_|
          |_|
%s ` + Version + `
Comparative load testing for learning record stores`

	asciiArt = asciiArt[1:]                          // This just removes the first newline character
	asciiArt = colorCyanBold + asciiArt + colorReset // Add color to the ASCII art

	return asciiArt
}

// BenchVersion returns the banner printed by xapibench.
func BenchVersion() string {
	return fmt.Sprintf(asciiArtTpl(), "Benchmark")
}
