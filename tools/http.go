package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response ends up in an error.
const maxErrorBody = 512

// send issues a JSON request and returns the response once its status is
// below 300. The caller closes the body.
func send(ctx context.Context, client *http.Client, op, method, endpoint string, header http.Header, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindInvalid, Err: err}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindInvalid, Err: err}
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &Error{Op: op, Kind: kindForStatus(resp.StatusCode), Err: errors.New(msg)}
	}
	return resp, nil
}

// stream copies a successful response body to w.
func stream(ctx context.Context, client *http.Client, op, method, endpoint string, header http.Header, body any, w io.Writer) error {
	resp, err := send(ctx, client, op, method, endpoint, header, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return wrapTransport(op, err)
	}
	if n == 0 {
		return &Error{Op: op, Kind: KindUpstream, Err: fmt.Errorf("empty response body")}
	}
	return nil
}
