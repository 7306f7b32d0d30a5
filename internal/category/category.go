// Package category maps prediction labels to the visual category used to
// pick a rendering style.
package category

import "strconv"

// Category is the visual treatment for a prediction label.
type Category string

const (
	Positive Category = "positive"
	Severe   Category = "severe"
	Caution  Category = "caution"
	Unknown  Category = "unknown"
)

// Of returns the visual category for a raw prediction label.
func Of(label string) Category {
	switch label {
	case "Healthy":
		return Positive
	case "RedRot", "Mosaic":
		return Severe
	case "BacterialBlights", "Rust", "Yellow":
		return Caution
	default:
		return Unknown
	}
}

// ConfidencePercent renders a [0,1] confidence as a percentage with two decimals.
func ConfidencePercent(confidence float64) string {
	return strconv.FormatFloat(confidence*100, 'f', 2, 64)
}
