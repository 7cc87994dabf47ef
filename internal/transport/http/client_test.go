package http

import (
	"encoding/json"
	"net/http"
	"time"
)

type jsonResponse struct {
	code int
	body map[string]any
}

var testClient = &http.Client{Timeout: 5 * time.Second}

func httpGet(url string) (*jsonResponse, error) {
	resp, err := testClient.Get(url)
	if err != nil {
		return nil, err
	}
	return readJSON(resp)
}

func httpPost(url string) (*jsonResponse, error) {
	resp, err := testClient.Post(url, "application/json", nil)
	if err != nil {
		return nil, err
	}
	return readJSON(resp)
}

func readJSON(resp *http.Response) (*jsonResponse, error) {
	defer resp.Body.Close()
	out := &jsonResponse{code: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&out.body); err != nil {
		return nil, err
	}
	return out, nil
}
