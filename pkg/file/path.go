package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxSuffix bounds the numbered variants AvailablePath tries.
const maxSuffix = 10000

// SplitExt splits name into its stem and extension. Leading dots belong to
// the stem, so ".hidden" has no extension.
func SplitExt(name string) (stem, ext string) {
	lastDot := strings.LastIndex(name, ".")
	if lastDot <= 0 {
		return name, ""
	}
	return name[:lastDot], name[lastDot:]
}

// AvailablePath returns a path in dir for name that does not exist yet,
// appending -1, -2, ... to the stem when needed.
func AvailablePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	stem, ext := SplitExt(name)
	for i := 1; ; i++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if i > maxSuffix {
			return "", fmt.Errorf("no free name for %s in %s", name, dir)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
}
