package media

// AspectClass is a coarse orientation bucket used to namespace storage keys.
type AspectClass string

const (
	Landscape AspectClass = "landscape"
	Portrait  AspectClass = "portrait"
	Other     AspectClass = "other"
)

// Integer-truncated reference ratios: 16/9 == 1 and 9/16 == 0.
const (
	landscapeRatio = 16 / 9
	portraitRatio  = 9 / 16
)

// Dimensions is the geometry of the first video stream.
type Dimensions struct {
	Width  int
	Height int
}

// Class returns the aspect class of d.
func (d Dimensions) Class() AspectClass {
	return Classify(d.Width, d.Height)
}

// Classify compares the integer-truncated width/height ratio with the
// truncated 16:9 and 9:16 ratios. Exactly square input is Other.
//
// The truncation makes the buckets wide: anything from just over 1:1 up to
// just under 2:1 is Landscape, anything taller than wide is Portrait, and
// 2:1 or wider is Other.
func Classify(width, height int) AspectClass {
	if width <= 0 || height <= 0 || width == height {
		return Other
	}

	switch width / height {
	case landscapeRatio:
		return Landscape
	case portraitRatio:
		return Portrait
	default:
		return Other
	}
}
