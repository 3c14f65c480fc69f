package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadResult is the backend's answer to an upload. Name may differ from the
// filename that was sent when the backend renames to avoid a collision.
type UploadResult struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func (c *ComfyClient) UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype ImageType, subfolder string) (*UploadResult, error) {
	// Create a buffer to store the request body
	var requestBody bytes.Buffer

	// Create a multipart writer to wrap the file (like FormData)
	writer := multipart.NewWriter(&requestBody)

	// Create a form-file for the image and copy the image data into it
	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return nil, err
	}

	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", string(filetype))
	if subfolder != "" {
		_ = writer.WriteField("subfolder", subfolder)
	}

	// Close the writer to finalize the body content
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload/image", nil, &requestBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	retv := &UploadResult{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, fmt.Errorf("POST /upload/image: decode response: %w", err)
	}
	if retv.Name == "" {
		return nil, fmt.Errorf("POST /upload/image: invalid response format")
	}
	return retv, nil
}

func (c *ComfyClient) UploadFileFromPath(ctx context.Context, filePath string, overwrite bool, filetype ImageType, subfolder string) (*UploadResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return c.UploadFileFromReader(ctx, file, filepath.Base(filePath), overwrite, filetype, subfolder)
}
