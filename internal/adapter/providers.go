package adapter

import (
	"net/http"
	"net/url"

	"github.com/cregis/apex/internal/config"
)

// setBearerAuth applies "Authorization: Bearer <key>" when the channel
// carries a key. Channels fronting a keyless upstream (a local ollama
// instance, say) simply configure no api_key and no header is added.
func setBearerAuth(header http.Header, apiKey string) {
	if apiKey == "" {
		return
	}
	header.Set("Authorization", "Bearer "+apiKey)
}

// baseURLFor picks BaseURL unless protocol is Anthropic and the channel
// carries a distinct AnthropicBaseURL, enabling one channel to serve both
// an OpenAI-shaped surface and Anthropic's native /v1/messages (spec §3,
// channel.anthropic_base_url; spec §7 dual-protocol routing).
func baseURLFor(channel *config.Channel, protocol Protocol) string {
	if protocol == ProtocolAnthropic && channel.AnthropicBaseURL != "" {
		return channel.AnthropicBaseURL
	}
	return channel.BaseURL
}

func parseAndJoin(base, path, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	joined := joinPath(u, path)
	joined.RawQuery = rawQuery
	return joined, nil
}

// openAIAdapter targets api.openai.com and any strict OpenAI-compatible
// upstream.
type openAIAdapter struct{}

func (openAIAdapter) RewriteURL(channel *config.Channel, protocol Protocol, path, rawQuery string) (*url.URL, error) {
	return parseAndJoin(baseURLFor(channel, protocol), path, rawQuery)
}

func (openAIAdapter) RewriteHeaders(header http.Header, channel *config.Channel) {
	stripInboundHeaders(header)
	setBearerAuth(header, channel.APIKey)
	applyStaticHeaders(header, channel)
}

func (openAIAdapter) RewriteBody(body []byte, channel *config.Channel) ([]byte, error) {
	return rewriteModelField(body, channel.ModelMap)
}

// openAICompatibleAdapter covers the providers that speak the OpenAI
// wire protocol verbatim and differ only in base URL and auth key
// (deepseek, moonshot, minimax, ollama, jina, openrouter).
type openAICompatibleAdapter struct {
	providerType string
}

func (a openAICompatibleAdapter) RewriteURL(channel *config.Channel, protocol Protocol, path, rawQuery string) (*url.URL, error) {
	return parseAndJoin(baseURLFor(channel, protocol), path, rawQuery)
}

func (a openAICompatibleAdapter) RewriteHeaders(header http.Header, channel *config.Channel) {
	stripInboundHeaders(header)
	setBearerAuth(header, channel.APIKey)
	if a.providerType == "openrouter" {
		// OpenRouter attributes usage to the calling application; harmless
		// to omit, but set a stable default when the operator hasn't
		// already supplied one via channel.headers.
		if header.Get("HTTP-Referer") == "" {
			header.Set("HTTP-Referer", "https://apex.internal")
		}
	}
	applyStaticHeaders(header, channel)
}

func (a openAICompatibleAdapter) RewriteBody(body []byte, channel *config.Channel) ([]byte, error) {
	return rewriteModelField(body, channel.ModelMap)
}

// anthropicAdapter targets api.anthropic.com, using x-api-key rather than
// a bearer token and requiring the anthropic-version header.
type anthropicAdapter struct{}

const anthropicVersion = "2023-06-01"

func (anthropicAdapter) RewriteURL(channel *config.Channel, protocol Protocol, path, rawQuery string) (*url.URL, error) {
	return parseAndJoin(baseURLFor(channel, protocol), path, rawQuery)
}

func (anthropicAdapter) RewriteHeaders(header http.Header, channel *config.Channel) {
	stripInboundHeaders(header)
	if channel.APIKey != "" {
		header.Set("x-api-key", channel.APIKey)
	}
	if header.Get("anthropic-version") == "" {
		header.Set("anthropic-version", anthropicVersion)
	}
	applyStaticHeaders(header, channel)
}

func (anthropicAdapter) RewriteBody(body []byte, channel *config.Channel) ([]byte, error) {
	return rewriteModelField(body, channel.ModelMap)
}

// geminiAdapter targets Google's Generative Language API, which
// authenticates via an x-goog-api-key header rather than Authorization.
type geminiAdapter struct{}

func (geminiAdapter) RewriteURL(channel *config.Channel, protocol Protocol, path, rawQuery string) (*url.URL, error) {
	return parseAndJoin(baseURLFor(channel, protocol), path, rawQuery)
}

func (geminiAdapter) RewriteHeaders(header http.Header, channel *config.Channel) {
	stripInboundHeaders(header)
	if channel.APIKey != "" {
		header.Set("x-goog-api-key", channel.APIKey)
	}
	applyStaticHeaders(header, channel)
}

func (geminiAdapter) RewriteBody(body []byte, channel *config.Channel) ([]byte, error) {
	return rewriteModelField(body, channel.ModelMap)
}
