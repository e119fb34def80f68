package edgetts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Voice is one entry of the service's voice catalog. Language is not part
// of the catalog payload, it is derived from Locale on retrieval.
type Voice struct {
	Name           string `json:"Name"`
	ShortName      string `json:"ShortName"`
	Gender         string `json:"Gender"`
	Locale         string `json:"Locale"`
	SuggestedCodec string `json:"SuggestedCodec"`
	FriendlyName   string `json:"FriendlyName"`
	Status         string `json:"Status"`
	Language       string `json:"-"`
}

// ListVoices pulls the voice catalog from the URL Microsoft Edge uses.
// proxyURL may be empty.
func ListVoices(ctx context.Context, proxyURL string) ([]Voice, error) {
	return listVoices(ctx, voiceListEndpoint, proxyURL)
}

func listVoices(ctx context.Context, endpoint, proxyURL string) ([]Voice, error) {
	client := &http.Client{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid proxy %q", ErrInvalidArgument, proxyURL)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build voice list request: %w", err)
	}
	req.Header.Set("Authority", "speech.platform.bing.com")
	req.Header.Set("Sec-CH-UA", `" Not;A Brand";v="99", "Microsoft Edge";v="91", "Chromium";v="91"`)
	req.Header.Set("Sec-CH-UA-Mobile", "?0")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch voice list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch voice list: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read voice list: %w", err)
	}

	var voices []Voice
	if err := json.Unmarshal(body, &voices); err != nil {
		return nil, fmt.Errorf("decode voice list: %w", err)
	}

	for i := range voices {
		voices[i].Language, _, _ = strings.Cut(voices[i].Locale, "-")
	}
	return voices, nil
}

// VoiceQuery selects voices by exact attribute match. Empty fields do not
// constrain; set fields are AND-combined.
type VoiceQuery struct {
	Gender    string
	Language  string
	Locale    string
	ShortName string
	Name      string
}

// VoicesManager finds voices by their attributes in an in-memory catalog.
type VoicesManager struct {
	voices []Voice
}

// NewVoicesManager builds a manager over an already retrieved catalog.
func NewVoicesManager(voices []Voice) *VoicesManager {
	return &VoicesManager{voices: voices}
}

// CreateVoicesManager retrieves the catalog and builds a manager over it.
func CreateVoicesManager(ctx context.Context, proxyURL string) (*VoicesManager, error) {
	voices, err := ListVoices(ctx, proxyURL)
	if err != nil {
		return nil, err
	}
	return NewVoicesManager(voices), nil
}

// Find returns all voices matching the query.
func (m *VoicesManager) Find(q VoiceQuery) []Voice {
	var matches []Voice
	for _, v := range m.voices {
		if q.Gender != "" && v.Gender != q.Gender {
			continue
		}
		if q.Language != "" && v.Language != q.Language {
			continue
		}
		if q.Locale != "" && v.Locale != q.Locale {
			continue
		}
		if q.ShortName != "" && v.ShortName != q.ShortName {
			continue
		}
		if q.Name != "" && v.Name != q.Name {
			continue
		}
		matches = append(matches, v)
	}
	return matches
}
