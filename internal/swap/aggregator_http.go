package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HTTPAggregatorConfig configures the net/http-backed AggregatorClient
// implementation (spec.md §6's aggregator HTTP interface; SPEC_FULL §3.1).
// No HTTP client library appears anywhere in the examples pack, so this uses
// the standard library directly behind the AggregatorClient interface.
type HTTPAggregatorConfig struct {
	BaseURL         string
	Chain           string
	ClientID        string
	Source          string
	IncludedSources []string
	Timeout         time.Duration
}

// HTTPAggregatorClient implements AggregatorClient over the two endpoints
// spec.md §6 describes: GET .../routes and POST .../route/build.
type HTTPAggregatorClient struct {
	cfg        HTTPAggregatorConfig
	httpClient *http.Client
}

// NewHTTPAggregatorClient builds an HTTPAggregatorClient. A zero Timeout
// defaults to 15s.
func NewHTTPAggregatorClient(cfg HTTPAggregatorConfig) *HTTPAggregatorClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPAggregatorClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type routeEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type routeData struct {
	RouteSummary  json.RawMessage `json:"routeSummary"`
	RouterAddress string          `json:"routerAddress"`
	AmountOut     string          `json:"amountOut"`
}

func (c *HTTPAggregatorClient) Route(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (RouteSummary, error) {
	endpoint := fmt.Sprintf("%s/%s/api/v1/routes", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Chain)
	q := url.Values{}
	q.Set("tokenIn", tokenIn.Hex())
	q.Set("tokenOut", tokenOut.Hex())
	q.Set("amountIn", amountIn.String())
	if len(c.cfg.IncludedSources) > 0 {
		q.Set("includedSources", strings.Join(c.cfg.IncludedSources, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return RouteSummary{}, fmt.Errorf("swap: build route request: %w", err)
	}
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return RouteSummary{}, err
	}

	var envelope routeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return RouteSummary{}, fmt.Errorf("swap: decode route response: %w", err)
	}
	if envelope.Code != 0 {
		return RouteSummary{}, fmt.Errorf("swap: route rejected: code=%d message=%s", envelope.Code, envelope.Message)
	}

	var data routeData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return RouteSummary{}, fmt.Errorf("swap: decode route data: %w", err)
	}

	amountOut, ok := new(big.Int).SetString(data.AmountOut, 10)
	if !ok {
		return RouteSummary{}, fmt.Errorf("swap: route amountOut %q is not a base-10 integer", data.AmountOut)
	}

	return RouteSummary{
		Raw:           data.RouteSummary,
		RouterAddress: common.HexToAddress(data.RouterAddress),
		AmountOut:     amountOut,
	}, nil
}

type buildRequest struct {
	RouteSummary       json.RawMessage `json:"routeSummary"`
	Sender             string          `json:"sender"`
	Recipient          string          `json:"recipient"`
	SlippageTolerance  int             `json:"slippageTolerance"`
	Source             string          `json:"source,omitempty"`
}

type buildData struct {
	Data          string `json:"data"`
	EncodedSwapData string `json:"encodedSwapData"`
	Value         string `json:"value"`
	RouterAddress string `json:"routerAddress"`
	AmountOut     string `json:"amountOut"`
}

func (c *HTTPAggregatorClient) Build(ctx context.Context, summary RouteSummary, sender, recipient common.Address, slippageBps int) (BuildResult, error) {
	endpoint := fmt.Sprintf("%s/%s/api/v1/route/build", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Chain)

	payload, err := json.Marshal(buildRequest{
		RouteSummary:      summary.Raw,
		Sender:            sender.Hex(),
		Recipient:         recipient.Hex(),
		SlippageTolerance: slippageBps,
		Source:            c.cfg.Source,
	})
	if err != nil {
		return BuildResult{}, fmt.Errorf("swap: encode build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return BuildResult{}, fmt.Errorf("swap: build build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return BuildResult{}, err
	}

	var envelope routeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return BuildResult{}, fmt.Errorf("swap: decode build response: %w", err)
	}
	if envelope.Code != 0 {
		return BuildResult{}, fmt.Errorf("swap: build rejected: code=%d message=%s", envelope.Code, envelope.Message)
	}

	var data buildData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return BuildResult{}, fmt.Errorf("swap: decode build data: %w", err)
	}

	hexData := data.Data
	if hexData == "" {
		hexData = data.EncodedSwapData
	}

	value := big.NewInt(0)
	if data.Value != "" {
		if v, ok := new(big.Int).SetString(strings.TrimPrefix(data.Value, "0x"), 16); ok {
			value = v
		}
	}

	amountOut := summary.AmountOut
	if data.AmountOut != "" {
		if v, ok := new(big.Int).SetString(data.AmountOut, 10); ok {
			amountOut = v
		}
	}

	return BuildResult{
		Data:          decodeHexData(hexData),
		Value:         value,
		RouterAddress: common.HexToAddress(data.RouterAddress),
		AmountOut:     amountOut,
	}, nil
}

func (c *HTTPAggregatorClient) setHeaders(req *http.Request) {
	if c.cfg.ClientID != "" {
		req.Header.Set("x-client-id", c.cfg.ClientID)
	}
}

// do executes req and returns the response body, treating a non-2xx status
// or an HTML body containing a challenge string as fatal for this attempt
// (spec.md §6's "Non-zero code, an HTML body containing a challenge string,
// or a mismatched router ... are fatal").
func (c *HTTPAggregatorClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap: aggregator request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("swap: read aggregator response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("swap: aggregator returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if looksLikeChallengePage(body) {
		return nil, fmt.Errorf("swap: aggregator returned a challenge page instead of JSON")
	}
	return body, nil
}

func looksLikeChallengePage(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "<html") && (strings.Contains(s, "challenge") || strings.Contains(s, "Just a moment"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func decodeHexData(s string) []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil
	}
	return b
}
