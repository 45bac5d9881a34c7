package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a forwarded call when no timeout is configured.
const DefaultTimeout = 20 * time.Second

// Forwarder relays single JSON-RPC requests to one upstream node. It holds only
// read-only configuration and is safe for concurrent use.
type Forwarder struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

type ForwarderConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("rpc timeout must not be negative: %s", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Forwarder{url: cfg.URL, timeout: cfg.Timeout, httpClient: cfg.HTTPClient}, nil
}

func (f *Forwarder) URL() string { return f.url }

func (f *Forwarder) Timeout() time.Duration { return f.timeout }

// Forward sends req as-is and returns the raw "result" member of the response.
// Failures are one of *TimeoutError, *TransportError, *UpstreamError,
// *ProtocolError or *RPCError.
func (f *Forwarder) Forward(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := otel.Tracer("txrelay/ethrpc").Start(ctx, "rpc.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
		),
	)
	defer span.End()

	result, err := f.forward(ctx, span, req)
	if err != nil {
		span.SetAttributes(attribute.String("rpc.error_kind", ErrorKind(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (f *Forwarder) forward(ctx context.Context, span trace.Span, req Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate")
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, f.failure(ctx, callCtx, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, StatusText: statusText(resp)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.failure(ctx, callCtx, err)
	}
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ProtocolError{Err: errors.New("response body is not a JSON object")}
	}
	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &ProtocolError{Err: err}
	}
	if !isNull(decoded.Error) {
		return nil, newRPCError(decoded.Error)
	}
	return decoded.Result, nil
}

// failure separates the forwarder's own deadline from every other reason a
// request could not complete, including cancellation by the caller.
func (f *Forwarder) failure(parent, call context.Context, err error) error {
	if parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: f.timeout, Err: err}
	}
	return &TransportError{Err: err}
}

func decodeBody(encoding string, raw []byte) ([]byte, error) {
	var (
		reader io.ReadCloser
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		reader, err = gzip.NewReader(bytes.NewReader(raw))
	case "deflate":
		reader, err = zlib.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s body: %w", encoding, err)
	}
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", encoding, err)
	}
	return body, nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
