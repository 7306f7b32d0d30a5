package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/cane-check/internal/controller"
)

const barWidth = 20

// Render draws a snapshot as plain text.
func Render(snap controller.Snapshot) string {
	var b strings.Builder

	switch {
	case snap.Image == nil && snap.DragActive:
		b.WriteString("[ drop the image here ]\n")
	case snap.Image == nil:
		b.WriteString("no image selected, use open <path> or drop <path>\n")
	default:
		fmt.Fprintf(&b, "image: %s (%s, %d bytes)\n", snap.Image.Name, snap.Image.MIMEType, snap.Image.Size)
		if snap.Preview != nil {
			fmt.Fprintf(&b, "preview: %s\n", snap.Preview.URL)
		}
	}

	switch {
	case snap.Request == controller.InFlight:
		b.WriteString("... Analyzing Sugarcane...\n")
	case snap.SubmitEnabled:
		b.WriteString("ready: submit to Detect Disease\n")
	}

	if snap.Result == nil {
		return b.String()
	}
	if snap.Failed() {
		b.WriteString("Detection Failed\n")
		fmt.Fprintf(&b, "  %s\n", snap.Result.Reason)
		return b.String()
	}
	fmt.Fprintf(&b, "Prediction Result: %s [%s]\n", snap.Result.Label, snap.Result.Category)
	fmt.Fprintf(&b, "  %s %s%%\n", bar(snap.Result.Confidence), snap.Result.ConfidencePercent)
	return b.String()
}

func bar(confidence float64) string {
	filled := int(math.Round(confidence * barWidth))
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}
