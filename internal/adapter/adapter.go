// Package adapter implements the Provider Adapter (spec §4.5): the small
// per-provider-type set of rewrites that let one Forwarder code path speak
// to nine different upstream LLM APIs. An Adapter only rewrites — it never
// itself performs the HTTP round trip, that's the Forwarder's job.
package adapter

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cregis/apex/internal/config"
	apexerrors "github.com/cregis/apex/internal/errors"
)

// MaxBodySize bounds how large a request body the model-rewrite step will
// buffer into memory. A request over this limit is rejected with 413
// before any upstream call is attempted (spec §4.5).
const MaxBodySize = 1 << 20 // 1 MiB

// Protocol identifies which wire shape a request is speaking, independent
// of which provider it's ultimately bound for — a channel with
// anthropic_base_url set can serve both.
type Protocol string

const (
	ProtocolOpenAI    Protocol = "openai"
	ProtocolAnthropic Protocol = "anthropic"
)

// Adapter rewrites an outbound request and inbound response for one
// provider_type.
type Adapter interface {
	// RewriteURL returns the upstream URL for path against channel,
	// choosing channel.BaseURL or channel.AnthropicBaseURL by protocol.
	RewriteURL(channel *config.Channel, protocol Protocol, path string, rawQuery string) (*url.URL, error)

	// RewriteHeaders mutates header in place: strips hop-by-hop and
	// inbound-credential headers, then injects this provider's auth
	// convention plus any static channel.Headers.
	RewriteHeaders(header http.Header, channel *config.Channel)

	// RewriteBody rewrites the "model" field through channel.ModelMap, if
	// present. body may be nil/empty (GET requests, embeddings without a
	// model override); returns body unchanged in that case.
	RewriteBody(body []byte, channel *config.Channel) ([]byte, error)
}

// RewriteResponseHeaders strips response hop-by-hop headers that would
// otherwise corrupt the proxied response (stale Content-Length once the
// body has been rewritten, Transfer-Encoding carried over from a
// connection the client never sees). Shared by every Adapter.
func RewriteResponseHeaders(header http.Header) {
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	header.Del("Connection")
}

var hopByHopRequestHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Authorization", "X-Api-Key", "Host", "Content-Length",
}

// stripInboundHeaders removes hop-by-hop headers and the client's own
// credential headers, so a provider adapter starts from a clean slate
// before injecting its own auth convention.
func stripInboundHeaders(header http.Header) {
	for _, h := range hopByHopRequestHeaders {
		header.Del(h)
	}
}

// applyStaticHeaders copies channel.Headers onto header, overwriting
// anything the adapter itself set — a static header override always wins
// (spec §3, channel.headers).
func applyStaticHeaders(header http.Header, channel *config.Channel) {
	for k, v := range channel.Headers {
		header.Set(k, v)
	}
}

// rewriteModelField rewrites the top-level "model" JSON field through
// channel.ModelMap, if a mapping exists for the incoming value. Any other
// field is left untouched, and a body that isn't valid JSON or carries no
// "model" field is returned unchanged.
func rewriteModelField(body []byte, modelMap map[string]string) ([]byte, error) {
	if len(body) == 0 || len(modelMap) == 0 {
		return body, nil
	}
	if len(body) > MaxBodySize {
		return nil, apexerrors.ErrPayloadTooLarge.WithDetails(fmt.Sprintf("request body of %d bytes exceeds the %d byte limit", len(body), MaxBodySize))
	}
	if !gjson.ValidBytes(body) {
		return body, nil
	}
	model := gjson.GetBytes(body, "model")
	if !model.Exists() {
		return body, nil
	}
	mapped, ok := modelMap[model.String()]
	if !ok {
		return body, nil
	}
	out, err := sjson.SetBytes(body, "model", mapped)
	if err != nil {
		return nil, apexerrors.Wrap(err, 500, "internal_error").WithDetails("failed to rewrite model field")
	}
	return out, nil
}

// joinPath joins a channel's base URL with the inbound request path,
// preserving the base's own path prefix (some providers front their API
// behind a prefix, e.g. a corporate gateway rooted at /llm).
func joinPath(base *url.URL, path string) *url.URL {
	u := *base
	basePath := strings.TrimSuffix(u.Path, "/")
	u.Path = basePath + "/" + strings.TrimPrefix(path, "/")
	return &u
}

// New returns the Adapter for the given provider_type, as already
// validated by the config compiler.
func New(providerType string) (Adapter, error) {
	switch providerType {
	case "openai":
		return openAIAdapter{}, nil
	case "anthropic":
		return anthropicAdapter{}, nil
	case "gemini":
		return geminiAdapter{}, nil
	case "deepseek", "moonshot", "minimax", "ollama", "jina", "openrouter":
		return openAICompatibleAdapter{providerType: providerType}, nil
	default:
		return nil, fmt.Errorf("adapter: unknown provider_type %q", providerType)
	}
}
