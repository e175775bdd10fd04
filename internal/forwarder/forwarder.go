// Package forwarder implements the request forwarding state machine (spec
// §4.6): pick a channel ordering, attempt the first, retry the same
// channel up to its configured attempts, and fail over to the next
// channel in the ordering on a retryable failure — but only until the
// first byte of a response has been streamed back to the client, after
// which the attempt is committed and failure is surfaced as-is.
package forwarder

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cregis/apex/internal/adapter"
	"github.com/cregis/apex/internal/config"
	apexerrors "github.com/cregis/apex/internal/errors"
	"github.com/cregis/apex/internal/metrics"
)

// defaultRetryableStatuses is applied when retries.retry_on_status is
// unset. 408 is deliberately excluded — see DESIGN.md.
var defaultRetryableStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// Request is everything the Forwarder needs to attempt one inbound call
// against an ordered channel list.
type Request struct {
	Router       string
	Model        string
	Protocol     adapter.Protocol
	Method       string
	Path         string
	RawQuery     string
	Header       http.Header
	Body         []byte // pre-buffered; empty for bodyless requests
	ChannelOrder []string
}

// Forwarder owns the HTTP client used for upstream calls and the metric
// sink the state machine reports to.
type Forwarder struct {
	client  *http.Client
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds a Forwarder. client should already carry the connect/request
// timeout defaults from config.Timeouts; Forwarder itself only adds the
// per-attempt response timeout via context.
func New(client *http.Client, m *metrics.Metrics, log *zap.Logger) *Forwarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Forwarder{client: client, metrics: m, log: log}
}

// Forward attempts req against cfg's channels in req.ChannelOrder,
// retrying and failing over per spec §4.6, and streams the first
// response that is not a retryable failure into w. When every channel
// fails, it writes the last error as a JSON envelope instead of the
// upstream's own response: upstream_error (502) when the last channel kept
// returning a retryable status, so the upstream status code itself is not
// passed on.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, req Request, cfg *config.Config) {
	retries := cfg.Retries
	retryableStatuses := statusSet(retries.RetryOnStatus)

	var lastErr *apexerrors.APIError
	for i, channelName := range req.ChannelOrder {
		channel := cfg.ChannelByName(channelName)
		if channel == nil {
			continue // referential integrity already enforced at compile time; defensive only
		}

		resp, err := f.attemptWithRetry(ctx, req, channel, retries, retryableStatuses)
		if err == nil {
			f.stream(w, resp, req.Router, req.Model, channelName)
			return
		}
		lastErr = err

		if i < len(req.ChannelOrder)-1 {
			next := req.ChannelOrder[i+1]
			f.metrics.FallbackTotal.WithLabelValues(req.Router, channelName, next).Inc()
			f.log.Warn("failing over to next channel",
				zap.String("router", req.Router), zap.String("from_channel", channelName),
				zap.String("to_channel", next), zap.Error(err))
		}
	}

	if lastErr == nil {
		lastErr = apexerrors.ErrUpstream.WithDetails("no channels configured")
	}
	f.metrics.ErrorsTotal.WithLabelValues(req.Router, lastErr.Code).Inc()
	lastErr.WriteJSON(w)
}

// attemptWithRetry retries the same channel up to retries.MaxAttempts
// times using a constant backoff (no jitter, no growth — spec §4.6 asks
// only for a fixed inter-attempt delay, not exponential pressure on an
// upstream that's already struggling).
func (f *Forwarder) attemptWithRetry(ctx context.Context, req Request, channel *config.Channel, retries config.Retries, retryableStatuses map[int]bool) (*http.Response, *apexerrors.APIError) {
	bo := backoff.NewConstantBackOff(time.Duration(retries.BackoffMs) * time.Millisecond)

	var lastErr *apexerrors.APIError
	for attempt := 0; attempt < retries.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apexerrors.ErrGatewayTimeout.WithDetails(ctx.Err().Error())
			case <-time.After(bo.NextBackOff()):
			}
		}

		resp, err := f.attempt(ctx, req, channel)
		if err != nil {
			lastErr = err
			if !isRetryableErr(err) {
				return nil, lastErr
			}
			continue
		}
		if retryableStatuses[resp.StatusCode] {
			resp.Body.Close()
			lastErr = apexerrors.ErrUpstream.WithDetails("upstream returned a retryable status")
			if attempt < retries.MaxAttempts-1 {
				continue
			}
			return nil, lastErr // attempts exhausted: fail over instead of streaming the retryable status
		}
		return resp, nil
	}
	return nil, lastErr
}

// attempt performs exactly one HTTP round trip against channel.
func (f *Forwarder) attempt(ctx context.Context, req Request, channel *config.Channel) (*http.Response, *apexerrors.APIError) {
	a, err := adapter.New(channel.ProviderType)
	if err != nil {
		return nil, apexerrors.ErrInternal.WithDetails(err.Error())
	}

	target, err := a.RewriteURL(channel, req.Protocol, req.Path, req.RawQuery)
	if err != nil {
		return nil, apexerrors.ErrInternal.WithDetails("failed to build upstream URL: " + err.Error())
	}

	body, rerr := a.RewriteBody(req.Body, channel)
	if rerr != nil {
		if apiErr, ok := apexerrors.As(rerr); ok {
			return nil, apiErr
		}
		return nil, apexerrors.ErrInternal.WithDetails(rerr.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), newBodyReader(body))
	if err != nil {
		return nil, apexerrors.ErrInternal.WithDetails(err.Error())
	}
	httpReq.Header = req.Header.Clone()
	a.RewriteHeaders(httpReq.Header, channel)
	if len(body) > 0 {
		httpReq.ContentLength = int64(len(body))
	}

	if channel.Timeouts != nil && channel.Timeouts.ResponseMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(channel.Timeouts.ResponseMs)*time.Millisecond)
		defer cancel()
		httpReq = httpReq.WithContext(ctx)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	elapsed := time.Since(start)
	f.metrics.UpstreamLatency.WithLabelValues(req.Router, channel.Name).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apexerrors.ErrGatewayTimeout.WithDetails(err.Error())
		}
		return nil, apexerrors.ErrUpstream.WithDetails(err.Error())
	}
	return resp, nil
}

// stream copies the upstream response to w unbuffered: once WriteHeader
// has gone out, the attempt is committed and a mid-stream read error
// cannot fail over (spec §4.6 — "streaming once started cannot fail
// over"), it just ends the response early.
func (f *Forwarder) stream(w http.ResponseWriter, resp *http.Response, router, model, channel string) {
	defer resp.Body.Close()

	adapter.RewriteResponseHeaders(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	f.metrics.RequestsTotal.WithLabelValues(router, model, statusClass(resp.StatusCode)).Inc()

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				f.log.Warn("upstream stream ended early", zap.String("router", router), zap.String("channel", channel), zap.Error(err))
			}
			return
		}
	}
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return &byteReader{data: body}
}

// byteReader is a minimal io.Reader over a byte slice — used instead of
// bytes.NewReader only so a single zero-value type can represent "no
// body" via newBodyReader returning a nil io.Reader (http.NewRequest
// treats a nil body as no body; bytes.NewReader would need to be typed
// nil-checked separately).
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func isRetryableErr(err *apexerrors.APIError) bool {
	switch err.Code {
	case "gateway_timeout", "upstream_error":
		return true
	default:
		return false
	}
}

func statusSet(codes []int) map[int]bool {
	if len(codes) == 0 {
		return defaultRetryableStatuses
	}
	out := make(map[int]bool, len(codes))
	for _, c := range codes {
		out[c] = true
	}
	return out
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
