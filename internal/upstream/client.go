// Package upstream talks to the external content API the pipeline pulls
// articles from.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"newsingest/internal/apperr"
	"newsingest/internal/models"
	"newsingest/internal/retry"
)

const userAgent = "newsingest-pipeline/1.0"

// Client fetches pages and single items from the upstream API with a hard
// per-call timeout and a bounded retry loop. Retries cover transport and
// timeout failures only; any well-formed HTTP response, 4xx included, is
// returned as-is.
type Client struct {
	http     *resty.Client
	validate *validator.Validate
	policy   retry.Policy
	log      zerolog.Logger
}

// Options tunes the client. Zero values fall back to the contract defaults
// (30s timeout, 3 attempts).
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// NewClient builds a Client against the given upstream.
func NewClient(opts Options, log zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		httpClient.SetHeader("Authorization", "Bearer "+opts.APIKey)
	}

	policy := retry.Default()
	if opts.Retries > 0 {
		policy.MaxAttempts = opts.Retries
	}
	policy.RetryIf = apperr.Retryable

	return &Client{
		http:     httpClient,
		validate: validator.New(),
		policy:   policy,
		log:      log.With().Str("component", "upstream").Logger(),
	}
}

// FetchPage retrieves one page of items. A response without an items array
// is an InvalidResponseError, never silently coerced to empty.
func (c *Client) FetchPage(ctx context.Context, limit, offset int, filters models.FetchFilters) (*models.FetchPage, error) {
	params := map[string]string{
		"limit":  strconv.Itoa(limit),
		"offset": strconv.Itoa(offset),
	}
	for k, v := range map[string]string{
		"status":     filters.Status,
		"sort_by":    filters.SortBy,
		"sort_order": filters.SortOrder,
		"category":   filters.Category,
		"tag":        filters.Tag,
		"search":     filters.Search,
	} {
		if v != "" {
			params[k] = v
		}
	}

	var page *models.FetchPage
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get("/items")
		if err != nil {
			return classifyTransport("fetch page", err)
		}
		page, err = decodePage(resp)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Int("limit", limit).
		Int("offset", offset).
		Int("items", len(page.Items)).
		Int("total", page.Total).
		Bool("has_more", page.HasMore).
		Msg("fetched upstream page")

	return page, nil
}

// FetchByID retrieves a single item. A 404 surfaces as *apperr.ApiError with
// NotFound() true; a present but malformed item is a hard validation error.
func (c *Client) FetchByID(ctx context.Context, id string) (*models.IncomingArticle, error) {
	var item models.IncomingArticle
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", id).
			Get("/items/{id}")
		if err != nil {
			return classifyTransport("fetch item", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return &apperr.ApiError{Status: resp.StatusCode(), Body: string(resp.Body())}
		}
		if err := json.Unmarshal(resp.Body(), &item); err != nil {
			return &apperr.InvalidResponseError{Reason: fmt.Sprintf("malformed item payload: %v", err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.ValidateItem(item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ValidateItem enforces the upstream item contract: id, source_guid,
// seo_title, content_md and original_url are required.
func (c *Client) ValidateItem(item models.IncomingArticle) error {
	err := c.validate.Struct(item)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &apperr.ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
	}
	return &apperr.ValidationError{Field: "item", Reason: err.Error()}
}

// decodePage validates the envelope shape before trusting it.
func decodePage(resp *resty.Response) (*models.FetchPage, error) {
	if resp.StatusCode() != http.StatusOK {
		return nil, &apperr.ApiError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	// Probe for the items key first: a missing or non-array items field is a
	// contract violation, not an empty page.
	var probe struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(resp.Body(), &probe); err != nil {
		return nil, &apperr.InvalidResponseError{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if len(probe.Items) == 0 || string(probe.Items) == "null" {
		return nil, &apperr.InvalidResponseError{Reason: "missing items array"}
	}

	var page models.FetchPage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, &apperr.InvalidResponseError{Reason: fmt.Sprintf("malformed page payload: %v", err)}
	}
	return &page, nil
}

// classifyTransport maps a transport failure onto the retryable taxonomy.
func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &apperr.TimeoutError{Op: op, Err: err}
	}
	return &apperr.NetworkError{Op: op, Err: err}
}
