package checkpointer

import (
	"fmt"
	"path/filepath"
)

// fileEnumerator enumerates filenames
type fileEnumerator struct {
	i         int
	name      string
	extension string
}

// filename returns the name of the next consecutive enumerated file
func (f *fileEnumerator) filename() string {
	f.i++
	return fmt.Sprintf("%v%v%v", f.name, f.i, f.extension)
}

// FilenameEnumerator returns a function which will return filenames
// with a counter integer suffix. Each time the returned function is
// called, the filename counter suffix will be one higher than on the
// previous call. The filename parameter is the full filename with its
// path, while the extension parameter determines the file extension.
func FilenameEnumerator(start int, filename, extension string) func() string {
	enum := fileEnumerator{i: start, name: filename, extension: extension}

	return enum.filename
}

// DirEnumerator returns a function which will return the path of file
// in enumerated directories dir/prefix1, dir/prefix2, and so on. It is
// used for objects such as a coordinator that save several files next
// to the file they are given.
func DirEnumerator(start int, dir, prefix, file string) func() string {
	next := FilenameEnumerator(start, filepath.Join(dir, prefix), "")
	return func() string {
		return filepath.Join(next(), file)
	}
}
