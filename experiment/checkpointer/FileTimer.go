package checkpointer

import (
	"fmt"
	"path/filepath"
	"time"
)

// FileTimer returns a function which will append to a filename the
// current UTC time, formatted so that the filenames sort in the order
// they were created
func FileTimer(filename, extension string) func() string {
	return func() string {
		return fmt.Sprintf("%v-%v%v", filename,
			time.Now().UTC().Format("20060102T150405.000000000"), extension)
	}
}

// DirTimer returns a function which will return the path of file in a
// directory dir/prefix-<time> named by the current UTC time
func DirTimer(dir, prefix, file string) func() string {
	next := FileTimer(filepath.Join(dir, prefix), "")
	return func() string {
		return filepath.Join(next(), file)
	}
}
