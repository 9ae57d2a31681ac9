package indexapi

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var ErrNoBaseURL = errors.New("indexapi: base url missing")

// StatusError 索引服务返回了非预期的 HTTP 状态码
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected response %s", e.Op, e.Status)
}

// checkResponse 统一处理传输错误和状态码
func checkResponse(resp *req.Response, requestErr error, op string, want int) error {
	if requestErr != nil {
		return fmt.Errorf("%s: http request error: %w", op, requestErr)
	}
	if resp.StatusCode != want {
		status := resp.Status
		if status == "" {
			status = fmt.Sprintf("%d", resp.StatusCode)
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Status: status}
	}
	return nil
}
