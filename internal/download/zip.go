package download

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
)

// File is one archive member, opened lazily while the archive is written.
type File struct {
	Name     string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// WriteZip streams files into a zip archive written to w.
func WriteZip(w io.Writer, files []File) (err error) {
	zw := zip.NewWriter(w)
	defer func() {
		err = multierr.Append(err, zw.Close())
	}()

	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			return err
		}
	}
	return nil
}

func addFile(zw *zip.Writer, f File) (err error) {
	if f.Open == nil {
		return fmt.Errorf("archive member %q has no content", f.Name)
	}

	header := &zip.FileHeader{
		Name:     f.Name,
		Method:   zip.Deflate,
		Modified: f.Modified,
	}
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create archive member %q: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, src.Close())
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write archive member %q: %w", f.Name, err)
	}
	return nil
}
