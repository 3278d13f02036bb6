package enrichment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// httpProvider is the common shape shared by the VirusTotal, DShield,
// URLHaus and SPUR providers: a GET request against a templated URL,
// optionally with an API key header. HIBP has its own type below.
type httpProvider struct {
	name       string
	urlFmt     string // one %s placeholder for the lookup key
	apiKey     string
	apiKeyName string // header name; empty means no auth header
	client     *http.Client
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) Lookup(ctx context.Context, key string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(p.urlFmt, key), nil)
	if err != nil {
		return nil, fmt.Errorf("enrichment: build %s request: %w", p.name, err)
	}
	if p.apiKeyName != "" && p.apiKey != "" {
		req.Header.Set(p.apiKeyName, p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment: %s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("enrichment: %s read response: %w", p.name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("enrichment: %s returned %s", p.name, resp.Status)
	}
	return json.RawMessage(body), nil
}

// NewVirusTotal looks up a file hash's reputation.
func NewVirusTotal(apiKey string, client *http.Client) Provider {
	return &httpProvider{
		name:       "virustotal",
		urlFmt:     "https://www.virustotal.com/api/v3/files/%s",
		apiKey:     apiKey,
		apiKeyName: "x-apikey",
		client:     client,
	}
}

// NewDShield looks up an IP's reputation in the SANS DShield database.
func NewDShield(client *http.Client) Provider {
	return &httpProvider{
		name:   "dshield",
		urlFmt: "https://isc.sans.edu/api/ip/%s?json",
		client: client,
	}
}

// NewURLHaus looks up a URL's malware-distribution history.
func NewURLHaus(apiKey string, client *http.Client) Provider {
	return &httpProvider{
		name:       "urlhaus",
		urlFmt:     "https://urlhaus-api.abuse.ch/v1/url/%s/",
		apiKey:     apiKey,
		apiKeyName: "Auth-Key",
		client:     client,
	}
}

// NewSPUR looks up an IP's infrastructure context.
func NewSPUR(apiKey string, client *http.Client) Provider {
	return &httpProvider{
		name:       "spur",
		urlFmt:     "https://api.spur.us/v2/context/%s",
		apiKey:     apiKey,
		apiKeyName: "Token",
		client:     client,
	}
}

// hibpProvider looks up the SHA-1 hash's first 5 hex characters against the
// k-anonymity range API, then checks the returned suffix list locally so
// the full password or hash is never sent over the wire.
type hibpProvider struct {
	client *http.Client
}

// NewHIBP returns a provider implementing the k-anonymity password-prefix
// range lookup. The key passed to Lookup is the plaintext candidate; the
// provider hashes it before contacting the API.
func NewHIBP(client *http.Client) Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &hibpProvider{client: client}
}

func (h *hibpProvider) Name() string { return "hibp" }

func (h *hibpProvider) Lookup(ctx context.Context, key string) (json.RawMessage, error) {
	sum := sha1.Sum([]byte(key))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := hash[:5], hash[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://api.pwnedpasswords.com/range/%s", prefix), nil)
	if err != nil {
		return nil, fmt.Errorf("enrichment: build hibp request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment: hibp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("enrichment: hibp read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("enrichment: hibp returned %s", resp.Status)
	}

	count := 0
	for _, line := range strings.Split(string(body), "\r\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 && parts[0] == suffix {
			fmt.Sscanf(parts[1], "%d", &count)
			break
		}
	}

	out, err := json.Marshal(map[string]int{"count": count})
	if err != nil {
		return nil, err
	}
	return out, nil
}
