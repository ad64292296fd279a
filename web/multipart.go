package web

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"reflect"
	"strings"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// multipartLimits carries the configured multipart ceilings.
type multipartLimits struct {
	maxFileSize  int64
	maxTotalSize int64
}

// FileUpload is the value bound for a multipart-file parameter.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64

	header *multipart.FileHeader
}

// Open returns a fresh reader over the uploaded content.
func (f *FileUpload) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

// Bytes reads the whole uploaded content into memory.
func (f *FileUpload) Bytes() ([]byte, error) {
	rc, err := f.header.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Save writes the uploaded content to path.
func (f *FileUpload) Save(path string) error {
	rc, err := f.header.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

var fileUploadType = reflect.TypeOf(&FileUpload{})

// multipartForm wraps one parsed multipart/form-data body.
type multipartForm struct {
	form   *multipart.Form
	limits multipartLimits
}

// parseMultipart decomposes the request body, enforcing the total-size
// ceiling up front.
func parseMultipart(r *http.Request, limits multipartLimits) (*multipartForm, error) {
	if r.MultipartForm == nil {
		r.Body = http.MaxBytesReader(nil, r.Body, limits.maxTotalSize)
		if err := r.ParseMultipartForm(limits.maxTotalSize); err != nil {
			return nil, pkgerrors.Newf(pkgerrors.KindRequestBinding,
				"cannot parse multipart body: %v", err)
		}
	}
	return &multipartForm{form: r.MultipartForm, limits: limits}, nil
}

// bind produces the value for one multipart binding.
func (m *multipartForm) bind(p ParamBinding) (reflect.Value, error) {
	switch p.Kind {
	case BindFile:
		headers := m.form.File[p.Name]
		if len(headers) == 0 {
			if p.Required {
				return reflect.Value{}, bindingError(p.Name, "required file part is missing")
			}
			return reflect.Zero(fileUploadType), nil
		}
		header := headers[0]

		maxSize := p.MaxFileSize
		if maxSize == 0 {
			maxSize = m.limits.maxFileSize
		}
		if header.Size > maxSize {
			return reflect.Value{}, pkgerrors.Newf(pkgerrors.KindRequestBinding,
				"file %q exceeds the maximum size of %d bytes", p.Name, maxSize).
				WithDetail("parameter", p.Name).
				WithDetail("size", header.Size).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}

		contentType := header.Header.Get("Content-Type")
		if len(p.ContentTypes) > 0 && !contentTypeAllowed(contentType, p.ContentTypes) {
			return reflect.Value{}, pkgerrors.Newf(pkgerrors.KindRequestBinding,
				"file %q has content type %q, allowed: %s",
				p.Name, contentType, strings.Join(p.ContentTypes, ", ")).
				WithDetail("parameter", p.Name).
				WithStatusCode(http.StatusUnsupportedMediaType)
		}

		return reflect.ValueOf(&FileUpload{
			Filename:    header.Filename,
			ContentType: contentType,
			Size:        header.Size,
			header:      header,
		}), nil

	case BindField:
		values := m.form.Value[p.Name]
		var raw string
		switch {
		case len(values) > 0:
			raw = values[0]
		case p.HasDefault:
			raw = p.Default
		case p.Required:
			return reflect.Value{}, bindingError(p.Name, "required form field is missing")
		default:
			return reflect.Zero(p.Target), nil
		}
		v, err := coerceParam(raw, p.Target)
		if err != nil {
			return reflect.Value{}, bindingError(p.Name, err.Error())
		}
		return v, nil
	}
	return reflect.Value{}, fmt.Errorf("not a multipart binding: %s", p.Kind)
}

// contentTypeAllowed matches exact types and "type/*" wildcards.
func contentTypeAllowed(contentType string, allowed []string) bool {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	for _, a := range allowed {
		if a == mediaType {
			return true
		}
		if strings.HasSuffix(a, "/*") && strings.HasPrefix(mediaType, strings.TrimSuffix(a, "*")) {
			return true
		}
	}
	return false
}
