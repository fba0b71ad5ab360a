// Package provider is the HTTP client for the external ranking-data API.
// Every method issues exactly one request; throttling and retries belong to
// the scheduler that wraps these calls.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
)

const (
	mapsZoom      = 14
	organicRadius = 200 // metres around the coordinate used as the searcher location
)

// errTaskNotReady is returned by task_get while the task is still queued.
var errTaskNotReady = errors.New("task not ready")

// Config holds configuration for the provider client.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	// Timeout bounds a single HTTP exchange. The scheduler applies its own
	// per-class timeout through the request context as well.
	Timeout time.Duration
}

// Client talks to the provider's v3 REST API with basic auth.
type Client struct {
	client *resty.Client
}

// NewClient creates a provider client.
func NewClient(cfg *Config) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dataforseo.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.Login, cfg.Password).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{client: client}
}

// SerpQuery is one geo-located search.
type SerpQuery struct {
	Keyword      string
	Lat          float64
	Lng          float64
	SearchType   domain.SearchType
	Depth        int
	LanguageCode string
	Device       string
}

// LocationCoordinate renders the coordinate the way the endpoint expects:
// a zoom level for maps, a radius for organic search.
func (q SerpQuery) LocationCoordinate() string {
	if q.SearchType == domain.SearchTypeOrganic {
		return fmt.Sprintf("%.7f,%.7f,%d", q.Lat, q.Lng, organicRadius)
	}
	return fmt.Sprintf("%.7f,%.7f,%dz", q.Lat, q.Lng, mapsZoom)
}

func (q SerpQuery) task() serpTask {
	return serpTask{
		Keyword:            q.Keyword,
		LocationCoordinate: q.LocationCoordinate(),
		LanguageCode:       q.LanguageCode,
		Device:             q.Device,
		Depth:              q.Depth,
	}
}

type serpTask struct {
	Keyword            string `json:"keyword"`
	LocationCoordinate string `json:"location_coordinate"`
	LanguageCode       string `json:"language_code,omitempty"`
	Device             string `json:"device,omitempty"`
	Depth              int    `json:"depth,omitempty"`
}

// SerpResult is the decoded result list of one search.
type SerpResult struct {
	Keyword string
	Items   []Item
}

type envelope struct {
	StatusCode    int            `json:"status_code"`
	StatusMessage string         `json:"status_message"`
	Tasks         []taskEnvelope `json:"tasks"`
}

type taskEnvelope struct {
	ID            string          `json:"id"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	Result        json.RawMessage `json:"result"`
}

type serpResultEnvelope struct {
	Keyword string            `json:"keyword"`
	Items   []json.RawMessage `json:"items"`
}

func serpPath(t domain.SearchType) string {
	if t == domain.SearchTypeOrganic {
		return "/v3/serp/google/organic"
	}
	return "/v3/serp/google/maps"
}

// LiveSearch runs a search synchronously.
func (c *Client) LiveSearch(ctx context.Context, q SerpQuery) (*SerpResult, error) {
	task, err := c.do(ctx, http.MethodPost, serpPath(q.SearchType)+"/live/advanced", []serpTask{q.task()})
	if err != nil {
		return nil, err
	}
	return decodeSerp(task), nil
}

// PostTask queues a search and returns its task id.
func (c *Client) PostTask(ctx context.Context, q SerpQuery) (string, error) {
	task, err := c.do(ctx, http.MethodPost, serpPath(q.SearchType)+"/task_post", []serpTask{q.task()})
	if err != nil {
		return "", err
	}
	if task == nil || task.ID == "" {
		return "", &Error{Kind: KindTransient, Message: "task_post returned no task id"}
	}
	return task.ID, nil
}

// GetTask fetches a queued search. ready is false while the provider is still
// working on it.
func (c *Client) GetTask(ctx context.Context, searchType domain.SearchType, taskID string) (result *SerpResult, ready bool, err error) {
	task, err := c.do(ctx, http.MethodGet, serpPath(searchType)+"/task_get/advanced/"+taskID, nil)
	if errors.Is(err, errTaskNotReady) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return decodeSerp(task), true, nil
}

// do executes one request and unwraps the first task. A nil task with a nil
// error means the provider answered with nothing usable.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*taskEnvelope, error) {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("provider request aborted: %w", ctxErr)
		}
		return nil, transportError(err)
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		msg := env.StatusMessage
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		if pe := classify(resp.StatusCode(), env.StatusCode, msg); pe != nil {
			return nil, pe
		}
	}
	if decodeErr != nil {
		return nil, nil
	}

	if pe := classify(0, env.StatusCode, env.StatusMessage); pe != nil {
		return nil, pe
	}
	if len(env.Tasks) == 0 {
		return nil, nil
	}

	task := env.Tasks[0]
	switch task.StatusCode {
	case codeOK, codeCreated, 0:
		return &task, nil
	case codeTaskHandled, codeTaskInQueue:
		return nil, errTaskNotReady
	}
	if pe := classify(0, task.StatusCode, task.StatusMessage); pe != nil {
		return nil, pe
	}
	return &task, nil
}

func decodeSerp(task *taskEnvelope) *SerpResult {
	out := &SerpResult{Items: []Item{}}
	if task == nil || len(task.Result) == 0 {
		return out
	}

	var results []serpResultEnvelope
	if err := json.Unmarshal(task.Result, &results); err != nil || len(results) == 0 {
		return out
	}
	out.Keyword = results[0].Keyword
	out.Items = decodeItems(results[0].Items)
	return out
}
