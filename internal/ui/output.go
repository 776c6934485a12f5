// Package ui provides colored terminal output helpers. All output goes to
// stderr so exported JSON on stdout stays machine readable.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	stepColor    = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgWhite)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	blueColor    = color.New(color.FgBlue)
	yellowColor  = color.New(color.FgYellow)
)

// Header prints a centered section banner.
func Header(text string) {
	line := strings.Repeat("=", headerWidth)
	headerColor.Fprintln(color.Error, line)
	headerColor.Fprintln(color.Error, center(text, headerWidth))
	headerColor.Fprintln(color.Error, line)
}

// Step prints a numbered progress step, e.g. "[2/4] Fetching statement".
func Step(current, total int, format string, args ...interface{}) {
	stepColor.Fprintf(color.Error, "[%d/%d] ", current, total)
	fmt.Fprintf(color.Error, format+"\n", args...)
}

// Success prints a green checkmarked message.
func Success(format string, args ...interface{}) {
	successColor.Fprintf(color.Error, "✓ "+format+"\n", args...)
}

// Info prints a plain informational message.
func Info(format string, args ...interface{}) {
	infoColor.Fprintf(color.Error, format+"\n", args...)
}

// Warning prints a yellow warning message.
func Warning(format string, args ...interface{}) {
	warningColor.Fprintf(color.Error, "! "+format+"\n", args...)
}

// Error prints a red error message.
func Error(format string, args ...interface{}) {
	errorColor.Fprintf(color.Error, "✗ "+format+"\n", args...)
}

// BlueText returns the text colored blue for inline use.
func BlueText(text string) string {
	return blueColor.Sprint(text)
}

// YellowText returns the text colored yellow for inline use.
func YellowText(text string) string {
	return yellowColor.Sprint(text)
}

// center pads text on the left so it appears centered within width. Text at
// or over the width is returned unchanged.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}
