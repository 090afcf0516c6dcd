package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"gitblog/internal/codec"
	"gitblog/internal/model"
	"gitblog/internal/service"
)

// postForm is the multipart body of POST /posts and PUT /posts/:id.
// contentFiles, filesToDelete and document arrive as JSON strings.
type postForm struct {
	Title         string
	Content       string
	Files         []service.Upload
	ContentFiles  []model.MediaRecord
	FilesToDelete []model.AttachedFile
}

// formError is a malformed request field.
type formError struct {
	code  string
	field string
	err   error
}

func (e *formError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.field, e.err)
}

func parsePostForm(c *fiber.Ctx) (*postForm, error) {
	f := &postForm{
		Title:   c.FormValue("title"),
		Content: c.FormValue("content"),
	}

	if raw := c.FormValue("contentFiles"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.ContentFiles); err != nil {
			return nil, &formError{code: "INVALID_CONTENT_FILES", field: "contentFiles", err: err}
		}
	}
	if raw := c.FormValue("filesToDelete"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.FilesToDelete); err != nil {
			return nil, &formError{code: "INVALID_FILES_TO_DELETE", field: "filesToDelete", err: err}
		}
	}
	if raw := c.FormValue("document"); raw != "" && f.Content == "" {
		var doc codec.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, &formError{code: "INVALID_DOCUMENT", field: "document", err: err}
		}
		f.Content = codec.Encode(doc)
	}

	if !strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		return f, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, &formError{code: "INVALID_FORM", field: "form", err: err}
	}
	for _, fh := range form.File["files"] {
		data, err := readUpload(fh)
		if err != nil {
			return nil, &formError{code: "FILE_OPEN_ERROR", field: "files", err: err}
		}
		f.Files = append(f.Files, service.Upload{Name: fh.Filename, Data: data})
	}
	return f, nil
}

// validate rejects requests the engine would refuse, before any remote call.
func (f *postForm) validate() error {
	var missing []string
	if strings.TrimSpace(f.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(f.Content) == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return &formError{code: "VALIDATION_ERROR", field: "request", err: fmt.Errorf("%s required", strings.Join(missing, " and "))}
	}
	for i, m := range f.ContentFiles {
		if m.ID == "" || m.Name == "" {
			return &formError{code: "VALIDATION_ERROR", field: fmt.Sprintf("contentFiles[%d]", i), err: fmt.Errorf("id and name are required")}
		}
	}
	for i, d := range f.FilesToDelete {
		if d.ID == "" && d.URL == "" {
			return &formError{code: "VALIDATION_ERROR", field: fmt.Sprintf("filesToDelete[%d]", i), err: fmt.Errorf("id or url is required")}
		}
	}
	return nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	r, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
