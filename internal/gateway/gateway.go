// Package gateway is the client for the external bridge manager webhook.
// Every lifecycle command (create, connect, reconnect, delete, status)
// goes through Dispatch, and every failure mode is classified into a
// typed Error before it leaves this package.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/talkincode/evopanel/pkg/common"
	"github.com/talkincode/evopanel/pkg/metrics"
	"go.uber.org/zap"
)

// Action is a bridge manager command.
type Action string

const (
	ActionCreate    Action = "create"
	ActionConnect   Action = "connect"
	ActionReconnect Action = "reconnect"
	ActionDelete    Action = "delete"
	ActionStatus    Action = "status"
)

var validActions = map[Action]bool{
	ActionCreate:    true,
	ActionConnect:   true,
	ActionReconnect: true,
	ActionDelete:    true,
	ActionStatus:    true,
}

// Classified error codes. Local validation codes never reach the network.
const (
	CodeConfigError     = "CONFIG_ERROR"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeInvalidAction   = "INVALID_ACTION"
	CodeAPIError        = "API_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeTimeoutError    = "TIMEOUT_ERROR"
	CodeOperationFailed = "OPERATION_FAILED"
	CodeUnknownError    = "UNKNOWN_ERROR"
)

// Error carries the classified failure surfaced to the reconciler and UI.
type Error struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a classified error.
func NewError(message, code string) *Error {
	return &Error{Message: message, Code: code}
}

// AsError converts any error to a classified *Error, mapping unknown
// error values to UNKNOWN_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Message: err.Error(), Code: CodeUnknownError}
}

// Request is the command payload sent to the manager webhook.
type Request struct {
	UserID     string `json:"user_id"`
	Action     Action `json:"action"`
	InstanceID string `json:"instance_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// ResponseData is the optional structured detail block of a response.
type ResponseData struct {
	InstanceName string    `mapstructure:"instance_name"`
	PhoneNumber  string    `mapstructure:"phone_number"`
	Action       string    `mapstructure:"action"`
	Timestamp    time.Time `mapstructure:"-"`
}

// Response is the manager webhook reply. Success is a pointer so an
// omitted field is distinguishable from an explicit false.
type Response struct {
	Success      *bool                  `json:"success"`
	Message      string                 `json:"message"`
	Code         string                 `json:"code"`
	InstanceName string                 `json:"instance_name"`
	QRCodeBase64 string                 `json:"qr_code_base64"`
	QRCode       string                 `json:"qr_code"`
	Data         map[string]interface{} `json:"data"`
}

// Failed reports whether the payload explicitly declares failure.
func (r *Response) Failed() bool {
	return r.Success != nil && !*r.Success
}

// QRPayload returns the QR content of the response, preferring the
// base64 image over the raw pairing string.
func (r *Response) QRPayload() string {
	if r.QRCodeBase64 != "" {
		return r.QRCodeBase64
	}
	return r.QRCode
}

// DecodeData decodes the loose data block into a typed struct. The
// manager emits timestamps in whatever format its workflow produced,
// so the field is parsed leniently.
func (r *Response) DecodeData() (*ResponseData, error) {
	if r.Data == nil {
		return nil, nil
	}
	var out ResponseData
	if err := mapstructure.WeakDecode(r.Data, &out); err != nil {
		return nil, err
	}
	if raw, ok := r.Data["timestamp"].(string); ok && raw != "" {
		if ts, err := dateparse.ParseAny(raw); err == nil {
			out.Timestamp = ts
		}
	}
	return &out, nil
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds every manager call.
const DefaultTimeout = 30 * time.Second

// Client dispatches commands to the manager webhook endpoint.
type Client struct {
	endpoint string
	timeout  time.Duration
}

// NewClient creates a manager client. A non-positive timeout selects
// the default 30s bound.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{endpoint: strings.TrimSpace(endpoint), timeout: timeout}
}

func (c *Client) validate(req Request) *Error {
	if c.endpoint == "" {
		return NewError("manager webhook url is not configured", CodeConfigError)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return NewError("user_id is required", CodeInvalidPayload)
	}
	if req.Action == "" {
		return NewError("action is required", CodeInvalidPayload)
	}
	if !validActions[req.Action] {
		return NewError(fmt.Sprintf("invalid action: %s", req.Action), CodeInvalidAction)
	}
	return nil
}

// Dispatch sends one command and returns the decoded response or a
// classified error. The call is bounded by the client timeout on top
// of the caller context.
func (c *Client) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var (
		body     []byte
		httpCode int
	)
	err := gout.POST(c.endpoint).
		WithContext(ctx).
		SetHeader(gout.H{"Content-Type": "application/json"}).
		SetJSON(req).
		BindBody(&body).
		Code(&httpCode).
		Do()
	metrics.RecordActionLatency(string(req.Action), time.Since(start))
	if err != nil {
		ge := classifyTransport(err)
		metrics.RecordActionError(string(req.Action), ge.Code)
		zap.L().Warn("manager dispatch transport failure",
			zap.String("action", string(req.Action)), zap.String("code", ge.Code), zap.Error(err))
		return nil, ge
	}

	resp, ge := decodeResponse(httpCode, body)
	if ge != nil {
		metrics.RecordActionError(string(req.Action), ge.Code)
		zap.L().Warn("manager dispatch failed",
			zap.String("action", string(req.Action)), zap.String("code", ge.Code),
			zap.Int("http_code", httpCode), zap.String("message", ge.Message))
		return nil, ge
	}
	// Workflow-produced responses often carry the instance identity only
	// inside the loose data block.
	detail, derr := resp.DecodeData()
	if derr != nil {
		zap.L().Warn("manager response data block is malformed",
			zap.String("action", string(req.Action)), zap.Error(derr))
	} else if detail != nil && resp.InstanceName == "" {
		resp.InstanceName = detail.InstanceName
	}

	zap.L().Info("manager dispatch ok",
		zap.String("action", string(req.Action)),
		zap.String("instance_name", resp.InstanceName),
		zap.Bool("has_qr", resp.QRPayload() != ""))
	return resp, nil
}

func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError("manager did not respond within the timeout", CodeTimeoutError)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return NewError("manager did not respond within the timeout", CodeTimeoutError)
	}
	return NewError("unable to reach the manager endpoint: "+err.Error(), CodeNetworkError)
}

func decodeResponse(httpCode int, body []byte) (*Response, *Error) {
	httpOK := httpCode >= 200 && httpCode < 300

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		if !httpOK {
			return nil, &Error{
				Message:    fmt.Sprintf("http %d: %s", httpCode, common.TruncateString(string(body), 200)),
				Code:       CodeAPIError,
				StatusCode: httpCode,
			}
		}
		return nil, NewError("manager response is not valid JSON", CodeInvalidResponse)
	}

	// A well-formed body can still declare failure, and a failure body
	// can carry its own message and code.
	if !httpOK {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("request failed with http %d", httpCode)
		}
		code := resp.Code
		if code == "" {
			code = CodeAPIError
		}
		return nil, &Error{Message: msg, Code: code, StatusCode: httpCode}
	}
	if resp.Failed() {
		msg := resp.Message
		if msg == "" {
			msg = "manager reported the operation failed"
		}
		code := resp.Code
		if code == "" {
			code = CodeOperationFailed
		}
		return nil, &Error{Message: msg, Code: code, StatusCode: httpCode}
	}
	return &resp, nil
}
