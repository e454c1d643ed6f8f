package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxErrorBody: сколько байт тела ошибки сохраняем в ProtocolError.
const maxErrorBody = 512

// maxResponseBody — потолок тела ответа агента, больше в память не читаем.
const maxResponseBody = 8 << 20

// HTTPAdapter выполняет JSON-запросы к control API одного агента.
// Транспорт (пул соединений) передается снаружи.
type HTTPAdapter struct {
	client  *http.Client
	baseURL string
	maxBody int64
}

// NewHTTPAdapter создает адаптер для агента по адресу host:port
func NewHTTPAdapter(client *http.Client, addr string) *HTTPAdapter {
	return &HTTPAdapter{
		client:  client,
		baseURL: "http://" + addr,
		maxBody: maxResponseBody,
	}
}

func (a *HTTPAdapter) BaseURL() string { return a.baseURL }

// Response: тело ответа агента и код статуса.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Do выполняет один запрос без повторов: повторы и breaker живут уровнем выше.
func (a *HTTPAdapter) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: method + " " + path, Addr: a.baseURL, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody+1))
	if err != nil {
		return nil, &ConnectivityError{Op: "read " + path, Addr: a.baseURL, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pErr := &ProtocolError{StatusCode: resp.StatusCode, Body: truncate(raw)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			if after, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				return &Response{StatusCode: resp.StatusCode}, &ThrottleError{RetryAfter: after, Cause: pErr}
			}
		}
		return &Response{StatusCode: resp.StatusCode}, pErr
	}

	if int64(len(raw)) > a.maxBody {
		return &Response{StatusCode: resp.StatusCode}, &ProtocolError{
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("response body exceeds %d bytes", a.maxBody),
		}
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if !json.Valid(raw) {
		// Старые сборки коллектора иногда отдают plain text: заворачиваем в JSON-строку
		quoted, _ := json.Marshal(string(raw))
		raw = quoted
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// StatusCode достает HTTP-код из ошибки адаптера (0: ответа не было).
func StatusCode(err error) int {
	var pErr *ProtocolError
	if errors.As(err, &pErr) {
		return pErr.StatusCode
	}
	return 0
}

// ErrorCode: короткий код ошибки для журнала метрик.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var cErr *ConnectivityError
	if errors.As(err, &cErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "ETIMEDOUT"
		}
		return cErr.Code()
	}
	var pErr *ProtocolError
	if errors.As(err, &pErr) {
		return pErr.Code()
	}
	return "EUNKNOWN"
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
