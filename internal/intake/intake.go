// Package intake reads and validates user-supplied documents before they
// become jobs.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// Supported MIME types.
const (
	MIMEPDF     = "application/pdf"
	MIMEXML     = "application/xml"
	MIMETextXML = "text/xml"
	MIMEPNG     = "image/png"
	MIMEJPEG    = "image/jpeg"
	MIMEJPG     = "image/jpg"
)

var allowed = map[string]bool{
	MIMEPDF:     true,
	MIMEXML:     true,
	MIMETextXML: true,
	MIMEPNG:     true,
	MIMEJPEG:    true,
	MIMEJPG:     true,
}

// DefaultMaxBytes is the per-file size limit when none is configured.
const DefaultMaxBytes = 10 << 20

// readConcurrency bounds how many files are read in parallel.
const readConcurrency = 4

// File is a submitted file whose bytes have not been read yet.
type File struct {
	Name     string
	MIMEType string
	Open     func() (io.ReadCloser, error)
}

// FromBytes wraps in-memory data as a File.
func FromBytes(name, mimeType string, data []byte) File {
	return File{
		Name:     name,
		MIMEType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Document is a fully read, validated file.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// IsXML reports whether the document is an XML invoice.
func (d Document) IsXML() bool {
	return IsXML(d.MIMEType)
}

// IsXML reports whether mimeType names an XML document.
func IsXML(mimeType string) bool {
	return mimeType == MIMEXML || mimeType == MIMETextXML
}

// Result is the outcome of reading one file. Exactly one of Doc and Err is
// meaningful.
type Result struct {
	Name string
	Doc  Document
	Err  error
}

// Reader loads and validates submitted files.
type Reader struct {
	MaxBytes int64
}

// NewReader returns a Reader with the given per-file limit. Non-positive
// limits fall back to DefaultMaxBytes.
func NewReader(maxBytes int64) *Reader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Reader{MaxBytes: maxBytes}
}

// ReadAll reads every file concurrently and validates it. Results keep the
// order of files. Per-file problems are reported in Result.Err; the returned
// error is non-nil only when ctx is cancelled.
func (r *Reader) ReadAll(ctx context.Context, files []File) ([]Result, error) {
	results := make([]Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)

	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := r.Read(f)
			results[i] = Result{Name: f.Name, Doc: doc, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Read loads a single file and validates it.
func (r *Reader) Read(f File) (Document, error) {
	if f.Open == nil {
		return Document{}, errors.New("no content")
	}
	rc, err := f.Open()
	if err != nil {
		return Document{}, fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.MaxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("reading file: %w", err)
	}
	if int64(len(data)) > r.MaxBytes {
		return Document{}, fmt.Errorf("file exceeds the %d MB limit", r.MaxBytes>>20)
	}
	if len(data) == 0 {
		return Document{}, errors.New("file is empty")
	}

	mimeType := NormalizeMIME(f.MIMEType, f.Name)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = Sniff(data)
	}
	if !allowed[mimeType] {
		return Document{}, fmt.Errorf("unsupported file type %q", displayType(mimeType))
	}

	doc := Document{Name: f.Name, MIMEType: mimeType, Data: data}
	if err := Validate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate runs the content checks for the document's type.
func Validate(doc Document) error {
	switch {
	case doc.MIMEType == MIMEPDF:
		pages, err := PDFPages(doc.Data)
		if err != nil {
			return fmt.Errorf("invalid PDF: %w", err)
		}
		if pages == 0 {
			return errors.New("invalid PDF: no pages")
		}
	case doc.IsXML():
		if !bytes.Contains(doc.Data, []byte("<")) {
			return errors.New("invalid XML: no markup")
		}
	}
	return nil
}

// PDFPages parses data as a PDF and returns its page count.
func PDFPages(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed document: %v", r)
		}
	}()
	rd, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return rd.NumPage(), nil
}

// NormalizeMIME strips parameters and lower-cases mimeType. An empty or
// generic type is inferred from the file name extension.
func NormalizeMIME(mimeType, name string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
			return parsed
		}
	}
	return mt
}

// Sniff guesses a MIME type from content when the client sent none.
func Sniff(data []byte) string {
	mt := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "text/plain" && bytes.HasPrefix(bytes.TrimSpace(data), []byte("<?xml")) {
		return MIMEXML
	}
	return mt
}

func displayType(mt string) string {
	if mt == "" {
		return "unknown"
	}
	return mt
}
