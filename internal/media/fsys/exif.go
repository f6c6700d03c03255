package fsys

import (
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// ReadExifDate returns the EXIF capture date of an image, or the zero time
// when the file has no readable EXIF block.
func ReadExifDate(path string) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}
	}
	taken, err := x.DateTime()
	if err != nil {
		return time.Time{}
	}
	return taken
}
