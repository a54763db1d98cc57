package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Tag-based console logger. Every line carries a timestamp, a level glyph,
// and a short subsystem tag, e.g.:
//
//	12:04:05 [OK] DB    Opened costing.db
//
// Colors are suppressed when stdout is not a terminal.

const (
	colorReset  = "\033[0m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var colorEnabled = isatty.IsTerminal(os.Stdout.Fd())

func paint(color, s string) string {
	if !colorEnabled {
		return s
	}
	return color + s + colorReset
}

func line(glyph, color, tag, msg string) {
	ts := time.Now().Format("15:04:05")
	fmt.Printf("%s %s %-9s %s\n", paint(colorDim, ts), paint(color, glyph), tag, msg)
}

// Info logs a neutral progress message.
func Info(tag, msg string) {
	line("[..]", colorCyan, tag, msg)
}

// Success logs a completed step.
func Success(tag, msg string) {
	line("[OK]", colorGreen, tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line("[!!]", colorYellow, tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	line("[XX]", colorRed, tag, msg)
}

// Banner prints the startup header with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Println(paint(colorBold, "FIFO Costing Portal"))
	fmt.Printf("%s\n\n", paint(colorDim, "version "+version))
}

// Section prints a visual divider for a named phase.
func Section(title string) {
	fmt.Printf("\n%s %s\n", paint(colorBold, "==>"), title)
}

// Stats prints a single key/value metric.
func Stats(key string, value interface{}) {
	fmt.Printf("    %-24s %v\n", key, value)
}

// Server announces the listen address.
func Server(addr string) {
	fmt.Printf("\n%s http://%s\n\n", paint(colorGreen, "Listening on"), addr)
}
