package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

type sendError struct {
	Code    int
	Message string
}

func (e *sendError) Error() string {
	return e.Message
}

func sendErr(code int, message string) *sendError {
	return &sendError{Code: code, Message: message}
}

func sendErrf(code int, format string, args ...any) *sendError {
	return &sendError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type dispatchRequest struct {
	AgentID      string `json:"agent_id"`
	Payload      string `json:"payload"`
	CaptureDelay string `json:"capture_delay,omitempty"`
}

type dispatchResult struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	State   string `json:"state"`
	Output  string `json:"output"`
	Err     string `json:"error"`
}

type serverErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func dispatchTask(cfg Config, payload []byte) (dispatchResult, error) {
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	target := baseURL + "/api/dispatch"

	request := dispatchRequest{
		AgentID: cfg.AgentID,
		Payload: string(payload),
	}
	if cfg.CaptureDelay > 0 {
		request.CaptureDelay = cfg.CaptureDelay.String()
	}
	body, err := json.Marshal(request)
	if err != nil {
		return dispatchResult{}, sendErrf(3, "encode request: %v", err)
	}

	if cfg.Verbose {
		logf(cfg, "dispatching %d bytes to agent %q at %s", len(payload), cfg.AgentID, target)
	}

	httpRequest, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return dispatchResult{}, sendErrf(3, "build request: %v", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	response, err := httpClient.Do(httpRequest)
	if err != nil {
		return dispatchResult{}, sendErrf(3, "request failed: %v", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return dispatchResult{}, sendErrf(3, "read response: %v", err)
	}
	if cfg.Verbose {
		logf(cfg, "response status: %d %s", response.StatusCode, http.StatusText(response.StatusCode))
	}

	if response.StatusCode != http.StatusOK {
		var serverError serverErrorResponse
		if json.Unmarshal(responseBody, &serverError) == nil && serverError.Error != "" {
			return dispatchResult{}, sendErrf(3, "server error: %s", serverError.Error)
		}
		return dispatchResult{}, sendErrf(3, "server returned %d", response.StatusCode)
	}

	var result dispatchResult
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return dispatchResult{}, sendErrf(3, "decode response: %v", err)
	}
	return result, nil
}

func handleSendError(err error, errOut io.Writer) int {
	var typed *sendError
	if errors.As(err, &typed) {
		fmt.Fprintln(errOut, typed.Message)
		if typed.Code != 0 {
			return typed.Code
		}
	} else {
		fmt.Fprintln(errOut, err.Error())
	}
	return 3
}

func logf(cfg Config, format string, args ...any) {
	if cfg.LogWriter == nil || !cfg.Verbose {
		return
	}
	fmt.Fprintf(cfg.LogWriter, format+"\n", args...)
}
