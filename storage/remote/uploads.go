package remote

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/backend"
)

var _ backend.Uploader = (*Client)(nil)

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload sends data as the multipart "file" of the uploads endpoint and returns its public URL.
func (c *Client) Upload(ctx context.Context, data []byte, folder, filename string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "creating form file")
	}
	if _, err = part.Write(data); err != nil {
		return "", errors.Wrap(err, "writing form file")
	}
	if err = w.Close(); err != nil {
		return "", errors.Wrap(err, "closing form")
	}

	params := url.Values{}
	if folder != "" {
		params.Set("path", folder)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/uploads", params, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp uploadResponse
	if err := c.send("upload", req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}
