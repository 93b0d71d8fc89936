// Package feedfile manages the on-disk lifecycle of feed files: prepare a temp
// file with the document header, append batches, then publish it atomically by
// renaming it over the final path.
//
// The final path is only ever produced by a rename. A reader of the final path
// sees either the complete previous feed or the complete new one.
package feedfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/feederr"
)

const (
	// Header opens the RSS document and its channel
	Header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<rss version="2.0" xmlns:g="http://base.google.com/ns/1.0">` + "\n" +
		"<channel>\n"

	// Footer closes the channel and the document
	Footer = "</channel>\n</rss>\n"

	filePerm = 0644
	dirPerm  = 0755
)

// Writer performs feed file operations on a filesystem
type Writer struct {
	fs afero.Fs
}

// NewWriter creates a writer on fs. A nil fs means the OS filesystem.
func NewWriter(fs afero.Fs) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs}
}

// Prepare truncates every destination's temp file and writes the header.
// Final files are not touched.
func (w *Writer) Prepare(destinations []destination.Destination) error {
	for _, dest := range destinations {
		if err := w.fs.MkdirAll(filepath.Dir(dest.TempPath), dirPerm); err != nil {
			return feederr.Filesystem("prepare",
				fmt.Sprintf("cannot create directory for '%s'", dest.TempPath), err)
		}
		if err := afero.WriteFile(w.fs, dest.TempPath, []byte(Header), filePerm); err != nil {
			return feederr.Filesystem("prepare",
				fmt.Sprintf("cannot write header to '%s'", dest.TempPath), err)
		}
	}
	return nil
}

// Append adds content to the destination's temp file. The temp file must have
// been prepared in the current cycle.
func (w *Writer) Append(dest destination.Destination, content string) error {
	if content == "" {
		return nil
	}
	if err := w.appendTo(dest.TempPath, content); err != nil {
		return feederr.Filesystem("append", fmt.Sprintf("cannot append to '%s'", dest.TempPath), err)
	}
	return nil
}

// Finalize appends the footer to every temp file and then renames each temp
// file over its final path. Footers are all written before the first rename, so
// a footer failure leaves every final file unchanged. Renames are not
// transactional: when one fails, the destinations already renamed stay
// published and the error names the temp and final path of each failure.
//
// Finalize may be re-run after an interruption. A temp file that already ends
// with the footer does not get a second one, and a destination whose temp file
// is gone while its final file exists was published by the earlier run.
func (w *Writer) Finalize(destinations []destination.Destination) error {
	pending := make([]destination.Destination, 0, len(destinations))
	for _, dest := range destinations {
		published, err := w.published(dest)
		if err != nil {
			return err
		}
		if published {
			slog.Debug("Feed file already published", "market", dest.Market, "feed_file", dest.FinalPath)
			continue
		}
		pending = append(pending, dest)
	}

	for _, dest := range pending {
		closed, err := w.hasFooter(dest.TempPath)
		if err != nil {
			return feederr.Filesystem("finalize",
				fmt.Sprintf("cannot read the end of '%s'", dest.TempPath), err)
		}
		if closed {
			continue
		}
		if err := w.appendTo(dest.TempPath, Footer); err != nil {
			return feederr.Filesystem("finalize",
				fmt.Sprintf("cannot write footer to '%s'", dest.TempPath), err)
		}
	}

	var errs []error
	for _, dest := range pending {
		if err := w.fs.Rename(dest.TempPath, dest.FinalPath); err != nil {
			slog.Error("Failed to publish feed file",
				"market", dest.Market,
				"tmp_file", dest.TempPath,
				"feed_file", dest.FinalPath,
				"error", err)
			errs = append(errs, feederr.Filesystem("finalize",
				fmt.Sprintf("cannot rename '%s' to '%s' for market %s", dest.TempPath, dest.FinalPath, dest.Market), err))
		}
	}
	return errors.Join(errs...)
}

// published reports whether an earlier Finalize already renamed the temp file
// of dest: the temp file is missing and the final file exists.
func (w *Writer) published(dest destination.Destination) (bool, error) {
	tmp, err := afero.Exists(w.fs, dest.TempPath)
	if err != nil {
		return false, feederr.Filesystem("finalize", fmt.Sprintf("cannot stat '%s'", dest.TempPath), err)
	}
	if tmp {
		return false, nil
	}
	final, err := afero.Exists(w.fs, dest.FinalPath)
	if err != nil {
		return false, feederr.Filesystem("finalize", fmt.Sprintf("cannot stat '%s'", dest.FinalPath), err)
	}
	return final, nil
}

// hasFooter reports whether the file at path ends with Footer
func (w *Writer) hasFooter(path string) (bool, error) {
	f, err := w.fs.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() < int64(len(Footer)) {
		return false, nil
	}

	tail := make([]byte, len(Footer))
	if _, err := f.ReadAt(tail, info.Size()-int64(len(Footer))); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return string(tail) == Footer, nil
}

// Exists reports whether the destination's final file has been published
func (w *Writer) Exists(dest destination.Destination) (bool, error) {
	ok, err := afero.Exists(w.fs, dest.FinalPath)
	if err != nil {
		return false, feederr.Filesystem("exists", fmt.Sprintf("cannot stat '%s'", dest.FinalPath), err)
	}
	return ok, nil
}

// Size returns the current size of the destination's temp file
func (w *Writer) Size(dest destination.Destination) (int64, error) {
	info, err := w.fs.Stat(dest.TempPath)
	if err != nil {
		return 0, feederr.Filesystem("size", fmt.Sprintf("cannot stat '%s'", dest.TempPath), err)
	}
	return info.Size(), nil
}

// Truncate cuts the destination's temp file back to size. It is used to drop
// the partial output of a batch before the batch is retried.
func (w *Writer) Truncate(dest destination.Destination, size int64) error {
	f, err := w.fs.OpenFile(dest.TempPath, os.O_WRONLY, filePerm)
	if err != nil {
		return feederr.Filesystem("truncate", fmt.Sprintf("cannot open '%s'", dest.TempPath), err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return feederr.Filesystem("truncate", fmt.Sprintf("cannot truncate '%s'", dest.TempPath), err)
	}
	return nil
}

// Remove deletes the temp and final file of every destination. Missing files are ignored.
func (w *Writer) Remove(destinations []destination.Destination) error {
	var errs []error
	for _, dest := range destinations {
		for _, path := range []string{dest.TempPath, dest.FinalPath} {
			if err := w.fs.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, feederr.Filesystem("remove", fmt.Sprintf("cannot remove '%s'", path), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) openFinal(dest destination.Destination) (io.ReadCloser, error) {
	f, err := w.fs.Open(dest.FinalPath)
	if err != nil {
		return nil, feederr.Filesystem("read", fmt.Sprintf("cannot open '%s'", dest.FinalPath), err)
	}
	return f, nil
}

func (w *Writer) appendTo(path, content string) error {
	// No O_CREATE: appending to a temp file that was never prepared is an error
	f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
