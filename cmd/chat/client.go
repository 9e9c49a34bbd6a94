package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RichardoC/tele-agent/internal/api"
)

type client struct {
	base        string
	id          int64
	displayName string
	http        *http.Client
}

func (c *client) endpoint(path string, extra url.Values) string {
	q := url.Values{}
	q.Set("conversation_id", strconv.FormatInt(c.id, 10))
	q.Set("display_name", c.displayName)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return strings.TrimSuffix(c.base, "/") + path + "?" + q.Encode()
}

// send posts a message and calls onEvent for every streamed event.
func (c *client) send(ctx context.Context, text string, onEvent func(api.Event)) error {
	body, err := json.Marshal(api.MessageRequest{Content: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/message", nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.stream(req, onEvent)
}

func (c *client) sendFile(ctx context.Context, path string, onEvent func(api.Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/file", nil), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.stream(req, onEvent)
}

func (c *client) stream(req *http.Request, onEvent func(api.Event)) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e api.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		onEvent(e)
	}
	return sc.Err()
}

// do runs a non-streaming request and decodes the JSON reply into out.
func (c *client) do(ctx context.Context, method, path string, extra url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, extra), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeFailure(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type failure struct {
	status int
	api.ErrorResponse
}

func (f *failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	return fmt.Sprintf("HTTP %d", f.status)
}

func decodeFailure(resp *http.Response) error {
	f := &failure{status: resp.StatusCode}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &f.ErrorResponse); err != nil {
		f.Message = strings.TrimSpace(string(data))
	}
	return f
}
