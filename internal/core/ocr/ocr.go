// Package ocr wraps the two optional OCR providers used for scanned PDFs:
// a cloud document endpoint that downloads the file from a signed URL, and a
// generic OCR endpoint that accepts raw bytes.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultDocumentModel = "mistral-ocr-latest"
	DefaultTimeout       = 120 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in diagnostics.
	maxErrorBody = 512
)

// DocumentClient submits a signed, time-limited URL to a cloud OCR document endpoint.
type DocumentClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewDocumentClient returns nil when apiKey is empty; a nil client means the step is skipped.
func NewDocumentClient(endpoint, apiKey string, httpClient *http.Client) *DocumentClient {
	if apiKey == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &DocumentClient{client: httpClient, endpoint: endpoint, apiKey: apiKey, model: DefaultDocumentModel}
}

type documentRequest struct {
	Model    string `json:"model"`
	Document struct {
		Type        string `json:"type"`
		DocumentURL string `json:"document_url"`
	} `json:"document"`
}

type documentResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
		Text     string `json:"text"`
	} `json:"pages"`
	Text string `json:"text"`
}

// ExtractFromURL asks the provider to OCR the document behind documentURL.
func (c *DocumentClient) ExtractFromURL(ctx context.Context, documentURL string) (string, error) {
	var reqBody documentRequest
	reqBody.Model = c.model
	reqBody.Document.Type = "document_url"
	reqBody.Document.DocumentURL = documentURL

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := do(c.client, req)
	if err != nil {
		return "", err
	}

	var res documentResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var pages []string
	for _, p := range res.Pages {
		t := p.Markdown
		if t == "" {
			t = p.Text
		}
		if strings.TrimSpace(t) != "" {
			pages = append(pages, t)
		}
	}
	if len(pages) == 0 {
		return res.Text, nil
	}
	return strings.Join(pages, "\n\n"), nil
}

// BytesClient posts raw file bytes to a generic image/PDF OCR endpoint.
type BytesClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewBytesClient returns nil when apiKey is empty.
func NewBytesClient(endpoint, apiKey string, httpClient *http.Client) *BytesClient {
	if apiKey == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &BytesClient{client: httpClient, endpoint: endpoint, apiKey: apiKey}
}

type bytesResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	// ErrorMessage is either a string or a list of strings depending on the failure.
	ErrorMessage json.RawMessage `json:"ErrorMessage"`
}

// ExtractFromBytes uploads data as a multipart file and returns the recognised text.
func (c *BytesClient) ExtractFromBytes(ctx context.Context, data []byte, fileName string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = mw.WriteField("filetype", "PDF")
	_ = mw.WriteField("OCREngine", "2")
	_ = mw.WriteField("scale", "true")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("apikey", c.apiKey)

	body, err := do(c.client, req)
	if err != nil {
		return "", err
	}

	var res bytesResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if res.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr processing failed: %s", errorMessage(res.ErrorMessage))
	}

	var parts []string
	for _, r := range res.ParsedResults {
		if strings.TrimSpace(r.ParsedText) != "" {
			parts = append(parts, r.ParsedText)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
