package netatmo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Invernomut0/netatmo-custom/internal/oauth"
)

const defaultBaseURL = "https://api.netatmo.com"

// Config defines runtime configuration for the Netatmo client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the Netatmo Energy REST API.
type Client struct {
	baseURL string
	oauth   *oauth.Manager

	httpClient *http.Client
}

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("netatmo api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func NewClient(cfg Config, manager *oauth.Manager) (*Client, error) {
	if manager == nil {
		return nil, fmt.Errorf("oauth manager is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		oauth:      manager,
		httpClient: httpClient,
	}, nil
}

// HomesData fetches the account topology: homes with their rooms,
// modules and schedules.
func (c *Client) HomesData(ctx context.Context) ([]Home, error) {
	var body struct {
		Homes []Home `json:"homes"`
	}
	if err := c.getJSON(ctx, "/api/homesdata", nil, &body); err != nil {
		return nil, err
	}
	return body.Homes, nil
}

// HomeStatus fetches the live state of one home.
func (c *Client) HomeStatus(ctx context.Context, homeID string) (HomeStatus, error) {
	query := url.Values{}
	query.Set("home_id", homeID)

	var body struct {
		Home HomeStatus `json:"home"`
	}
	if err := c.getJSON(ctx, "/api/homestatus", query, &body); err != nil {
		return HomeStatus{}, err
	}
	return body.Home, nil
}

// SetRoomThermpoint applies a per-room setpoint. Temperature and end
// time are optional; the vendor requires a temperature only for manual
// setpoints.
func (c *Client) SetRoomThermpoint(ctx context.Context, homeID, roomID, mode string, temp *float64, endTime *int64) error {
	form := url.Values{}
	form.Set("home_id", homeID)
	form.Set("room_id", roomID)
	form.Set("mode", mode)
	if temp != nil {
		form.Set("temp", strconv.FormatFloat(*temp, 'f', -1, 64))
	}
	if endTime != nil {
		form.Set("endtime", strconv.FormatInt(*endTime, 10))
	}
	return c.postForm(ctx, "/api/setroomthermpoint", form)
}

// SetThermMode switches the home-wide mode (schedule, away or hg).
func (c *Client) SetThermMode(ctx context.Context, homeID, mode string) error {
	form := url.Values{}
	form.Set("home_id", homeID)
	form.Set("mode", mode)
	return c.postForm(ctx, "/api/setthermmode", form)
}

// SwitchHomeSchedule selects another heating timetable.
func (c *Client) SwitchHomeSchedule(ctx context.Context, homeID, scheduleID string) error {
	form := url.Values{}
	form.Set("home_id", homeID)
	form.Set("schedule_id", scheduleID)
	return c.postForm(ctx, "/api/switchhomeschedule", form)
}

// AddWebhook registers a push endpoint for this app's events.
func (c *Client) AddWebhook(ctx context.Context, callbackURL string) error {
	form := url.Values{}
	form.Set("url", callbackURL)
	return c.postForm(ctx, "/api/addwebhook", form)
}

// DropWebhook removes the registered push endpoint.
func (c *Client) DropWebhook(ctx context.Context) error {
	form := url.Values{}
	form.Set("app_types", "app_thermostat")
	return c.postForm(ctx, "/api/dropwebhook", form)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var envelope struct {
		Body   json.RawMessage `json:"body"`
		Status string          `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Body) == 0 {
		return fmt.Errorf("response missing body (status %q)", envelope.Status)
	}
	return json.Unmarshal(envelope.Body, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	resp, err := c.doRequest(ctx, http.MethodPost, path, "application/x-www-form-urlencoded;charset=utf-8", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var envelope struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Status != "ok" {
		return fmt.Errorf("unexpected response status %q", envelope.Status)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	accessToken, err := c.oauth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	resp.Body.Close()
	c.oauth.TriggerRefresh(ctx)
	return nil, fmt.Errorf("netatmo api unauthorized; refresh triggered")
}
