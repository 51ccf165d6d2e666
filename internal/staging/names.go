package staging

import (
	"fmt"

	"github.com/seantiz/stillreel/internal/model"
)

// Reserved names. Frame names always start with "img" followed by digits,
// so they cannot collide with these.
const (
	ScriptName = "list.txt"
	AudioName  = "audio"
)

// FrameName returns the staged name of the frame at index, e.g. img007.png.
// Names sort lexicographically in frame order for indexes below 1000.
func FrameName(index int, ext string) string {
	return fmt.Sprintf("img%03d.%s", index, ext)
}

// OutputName returns the staged name of the encoded output.
func OutputName(format model.OutputFormat) string {
	return "out." + string(format)
}
