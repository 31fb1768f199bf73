package detector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// maxTunnelDocument caps how much of the tunnel-manager response is read.
const maxTunnelDocument = 1 << 20

// TunnelDetector inspects the local tunnel-manager API. The service is up
// when at least one tunnel is listed; Detail is the first tunnel's public URL.
type TunnelDetector struct {
	APIURL  string
	Timeout time.Duration
	Client  *http.Client
}

func NewTunnelDetector(apiURL string, timeout time.Duration) *TunnelDetector {
	return &TunnelDetector{APIURL: apiURL, Timeout: timeout, Client: newProbeClient(timeout)}
}

func (d *TunnelDetector) Detect(ctx context.Context) Result {
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()
	up, url := ProbeTunnel(ctx, d.Client, d.APIURL)
	return Result{Up: up, Detail: url}
}

func (d *TunnelDetector) Describe() string { return "tunnel:" + d.APIURL }

type tunnelList struct {
	Tunnels []tunnelEntry `json:"tunnels"`
}

type tunnelEntry struct {
	Name      string  `json:"name"`
	PublicURL *string `json:"public_url"`
	Proto     string  `json:"proto"`
}

// ProbeTunnel fetches the tunnel list from apiURL. It returns (true, url) when
// the document lists at least one tunnel, url being empty when the first entry
// has no public_url yet, and (false, "") otherwise, including when the tunnel
// manager is not running at all.
func ProbeTunnel(ctx context.Context, client *http.Client, apiURL string) (bool, string) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return false, ""
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return false, ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTunnelDocument))
		return false, ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTunnelDocument))
	if err != nil {
		return false, ""
	}
	return parseTunnels(body)
}

func parseTunnels(body []byte) (bool, string) {
	var doc tunnelList
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, ""
	}
	if len(doc.Tunnels) == 0 {
		return false, ""
	}
	if doc.Tunnels[0].PublicURL == nil {
		return true, ""
	}
	return true, *doc.Tunnels[0].PublicURL
}
