package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/toastd/toastd/internal/logging"
	"github.com/toastd/toastd/internal/notify"
)

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 8 << 20

// errBadRequest marks body parsing failures, reported as 400.
var errBadRequest = errors.New("bad request")

type jsonRequest struct {
	Title           string `json:"title"`
	Message         string `json:"message"`
	CallbackCommand string `json:"callback_command"`
	ImageData       string `json:"image_data"`
	ImageType       string `json:"image_type"`
	ImagePosition   string `json:"image_position"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	l := logging.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	req, err := parseRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		l.Debug("unparseable notify request", logging.KeyError, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		status := statusFor(notify.KindOf(err))
		if status >= 500 {
			l.Error("failed to send notification", logging.KeyError, err)
			writeError(w, status, "failed to send notification: "+err.Error())
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Notification sent successfully", ID: rec.ID, Action: rec.Action})
}

func statusFor(k notify.Kind) int {
	switch k {
	case notify.KindValidation:
		return http.StatusBadRequest
	case notify.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// parseRequest accepts multipart/form-data, urlencoded forms and JSON.
func parseRequest(r *http.Request) (notify.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return parseMultipart(r)
	case "application/json":
		return parseJSON(r.Body)
	default:
		if err := r.ParseForm(); err != nil {
			return notify.Request{}, fmt.Errorf("%w: invalid form data: %w", errBadRequest, err)
		}
		return notify.Request{
			Title:           r.PostForm.Get("title"),
			Message:         r.PostForm.Get("message"),
			CallbackCommand: r.PostForm.Get("callback_command"),
		}, nil
	}
}

func parseMultipart(r *http.Request) (notify.Request, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return notify.Request{}, fmt.Errorf("%w: invalid multipart form: %w", errBadRequest, err)
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	req := notify.Request{
		Title:           firstValue(form.Value, "title"),
		Message:         firstValue(form.Value, "message"),
		CallbackCommand: firstValue(form.Value, "callback_command"),
	}

	if fhs := form.File["image"]; len(fhs) > 0 {
		data, err := readPart(fhs[0])
		if err != nil {
			return notify.Request{}, err
		}
		req.Image = &notify.Image{
			Data:        data,
			ContentType: fhs[0].Header.Get("Content-Type"),
			Placement:   firstValue(form.Value, "image_position"),
			Name:        fhs[0].Filename,
		}
	}
	for _, fh := range form.File["files"] {
		data, err := readPart(fh)
		if err != nil {
			return notify.Request{}, err
		}
		req.Attachments = append(req.Attachments, notify.Attachment{Name: fh.Filename, Data: data})
	}
	return req, nil
}

func parseJSON(body io.Reader) (notify.Request, error) {
	var in jsonRequest
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return notify.Request{}, err
		}
		return notify.Request{}, fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	req := notify.Request{
		Title:           in.Title,
		Message:         in.Message,
		CallbackCommand: in.CallbackCommand,
	}
	if in.ImageData != "" {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(in.ImageData))
		if err != nil {
			return notify.Request{}, fmt.Errorf("%w: image_data is not valid base64", errBadRequest)
		}
		req.Image = &notify.Image{Data: data, ContentType: in.ImageType, Placement: in.ImagePosition}
	}
	return req, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
