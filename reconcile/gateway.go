package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// FetchResult is the outcome of one scope fetch. NotModified means the
// registry's view has not changed since CacheToken was issued; it is distinct
// from an empty contract list.
type FetchResult struct {
	Contracts   []models.CachedContract
	CacheToken  string
	NotModified bool
}

// ContractGateway is the engine's view of the external contract registry.
// The concrete HTTP client lives below; tests inject fakes.
type ContractGateway interface {
	FetchContracts(ctx context.Context, scopeId string, cacheToken string, forceRefresh bool) (FetchResult, error)
	FetchContractItems(ctx context.Context, contractId int64) ([]models.CachedContractItem, error)
}

type registryContract struct {
	ContractId int64       `json:"contract_id"`
	Kind       string      `json:"type"`
	Status     string      `json:"status"`
	IssuerId   int64       `json:"issuer_id"`
	AcceptorId int64       `json:"acceptor_id"`
	AssigneeId int64       `json:"assignee_id"`
	LocationId int64       `json:"start_location_id"`
	Title      string      `json:"title"`
	Price      json.Number `json:"price"`
	DateIssued string      `json:"date_issued"`
}

type registryContractItem struct {
	ItemType   int64 `json:"type_id"`
	Quantity   int64 `json:"quantity"`
	IsIncluded bool  `json:"is_included"`
}

type registryListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	CacheToken string            `json:"cache_token"`
}

// registryClient talks to the contract registry over HTTP. One shared
// tick-based limiter enforces the global rate budget across all scopes;
// per-scope backoff on 429 is the orchestrator's job.
type registryClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// NewRegistryGateway builds the HTTP-backed gateway from the environment.
//
// Env:
// - REGISTRY_API_BASE_URL (required-ish, defaults to https://registry.local)
// - REGISTRY_API_KEY
// - REGISTRY_API_KEY_HEADER (default X-API-Key)
// - GATEWAY_RATE_LIMIT_PER_MIN (default 60)
// - GATEWAY_TIMEOUT (default 30s)
func NewRegistryGateway() (ContractGateway, error) {
	baseURL := utils.StringFromEnv("REGISTRY_API_BASE_URL", "https://registry.local")
	apiKey := utils.StringFromEnv("REGISTRY_API_KEY", "")
	if apiKey == "" {
		return nil, errors.New("registry api key is empty")
	}
	apiKeyHeader := utils.StringFromEnv("REGISTRY_API_KEY_HEADER", "X-API-Key")
	rateLimitPerMin := utils.Int64FromEnv("GATEWAY_RATE_LIMIT_PER_MIN", 60)
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 60
	}
	timeout := utils.DurationFromEnv("GATEWAY_TIMEOUT", 30*time.Second)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &registryClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: timeout},
		limiter:   time.Tick(interval),
	}, nil
}

func (c *registryClient) FetchContracts(ctx context.Context, scopeId string, cacheToken string, forceRefresh bool) (FetchResult, error) {
	params := url.Values{}
	params.Set("limit", "500")

	headers := map[string]string{}
	if cacheToken != "" && !forceRefresh {
		headers["If-None-Match"] = cacheToken
	}
	if forceRefresh {
		headers["Cache-Control"] = "no-cache"
	}

	body, respHeaders, status, err := c.get(ctx, "/v1/scopes/"+url.PathEscape(scopeId)+"/contracts", params, headers)
	if err != nil {
		return FetchResult{}, err
	}
	if status == http.StatusNotModified {
		return FetchResult{CacheToken: cacheToken, NotModified: true}, nil
	}

	var parsed registryListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return FetchResult{}, fmt.Errorf("%w: %v", ErrExternalDataUnavailable, err)
	}
	token := parsed.CacheToken
	if token == "" {
		token = strings.Trim(respHeaders.Get("ETag"), `"`)
	}

	rows := parsed.Data
	if len(rows) == 0 {
		rows = parsed.Items
	}

	now := time.Now().UTC()
	contracts := make([]models.CachedContract, 0, len(rows))
	for _, raw := range rows {
		var rc registryContract
		if err := json.Unmarshal(raw, &rc); err != nil {
			continue
		}
		if rc.ContractId == 0 {
			continue
		}
		acceptor := rc.AcceptorId
		if acceptor == 0 {
			acceptor = rc.AssigneeId
		}
		contracts = append(contracts, models.CachedContract{
			ContractId: rc.ContractId,
			ScopeId:    scopeId,
			Kind:       rc.Kind,
			Status:     rc.Status,
			IssuerId:   rc.IssuerId,
			AcceptorId: acceptor,
			LocationId: rc.LocationId,
			Title:      rc.Title,
			Price:      decimalFromNumber(rc.Price),
			DateIssued: parseTimeOrZero(rc.DateIssued),
			LastSynced: now,
		})
	}
	return FetchResult{Contracts: contracts, CacheToken: token}, nil
}

func (c *registryClient) FetchContractItems(ctx context.Context, contractId int64) ([]models.CachedContractItem, error) {
	body, _, status, err := c.get(ctx, fmt.Sprintf("/v1/contracts/%d/items", contractId), nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// Items of finished/expired contracts are no longer served.
		return nil, nil
	}

	var parsed registryListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalDataUnavailable, err)
	}
	rows := parsed.Data
	if len(rows) == 0 {
		rows = parsed.Items
	}

	items := make([]models.CachedContractItem, 0, len(rows))
	for _, raw := range rows {
		var ri registryContractItem
		if err := json.Unmarshal(raw, &ri); err != nil {
			continue
		}
		items = append(items, models.CachedContractItem{
			ItemType:   ri.ItemType,
			Quantity:   ri.Quantity,
			IsIncluded: ri.IsIncluded,
		})
	}
	return items, nil
}

func (c *registryClient) get(ctx context.Context, path string, params url.Values, headers map[string]string) ([]byte, http.Header, int, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %v", ErrExternalDataUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return body, resp.Header, resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, resp.StatusCode, &RateLimitedError{RetryAfter: retryAfter(resp.Header)}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, nil, resp.StatusCode, ErrScopeAuthorizationMissing
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, nil, resp.StatusCode, fmt.Errorf("%w: registry error %d: %s",
			ErrExternalDataUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, resp.Header, resp.StatusCode, nil
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return time.Minute
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func parseTimeOrZero(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
