package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBridgeURL = "http://localhost:9090"

// apiGet fetches path from the bridge API and pretty-prints the JSON
// response.
func apiGet(baseURL, path string) error {
	body, status, err := apiDo(http.MethodGet, baseURL, path, nil)
	if err != nil {
		return err
	}
	return printJSON(body, status)
}

// apiPost posts payload to path and pretty-prints the response.
func apiPost(baseURL, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	respBody, status, err := apiDo(http.MethodPost, baseURL, path, body)
	if err != nil {
		return err
	}
	return printJSON(respBody, status)
}

func apiDo(method, baseURL, path string, body io.Reader) ([]byte, int, error) {
	url := strings.TrimRight(baseURL, "/") + path

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("bridge unreachable at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

func printJSON(body []byte, status int) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
	} else {
		fmt.Println(pretty.String())
	}
	if status >= 400 {
		return fmt.Errorf("bridge returned HTTP %d", status)
	}
	return nil
}
