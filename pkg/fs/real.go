package fs

import "os"

// Real implements [FS] against the real filesystem.
//
// Every method is a direct passthrough to the [os] package.
type Real struct{}

// NewReal returns a [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Open(path string) (File, error) {
	return os.Open(path)
}

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
