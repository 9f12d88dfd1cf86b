package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Coollin0/Indie-Hain/internal/manifest"
)

// Timeouts per payload class: metadata calls are short, chunk transfer long.
const (
	metaTimeout  = 20 * time.Second
	chunkTimeout = 120 * time.Second
)

// API is the HTTP client for the distribution server. It holds the token
// pair and transparently refreshes the access token once on a 401.
type API struct {
	BaseURL  string
	DeviceID string

	mu           sync.Mutex
	accessToken  string
	refreshToken string

	meta  *http.Client
	chunk *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		meta:    &http.Client{Timeout: metaTimeout},
		chunk:   &http.Client{Timeout: chunkTimeout},
	}
}

// SetTokens seeds a previously stored token pair.
func (a *API) SetTokens(access, refresh string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessToken = access
	a.refreshToken = refresh
}

// Tokens returns the current pair, which rotates on refresh. Callers should
// persist it after any request.
func (a *API) Tokens() (access, refresh string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessToken, a.refreshToken
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// IsPurchaseRequired reports whether the server demanded a purchase.
func IsPurchaseRequired(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Code == "PURCHASE_REQUIRED"
}

func (a *API) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, contentType string, body []byte, out interface{}) error {
	if err := a.doOnce(ctx, hc, method, path, query, contentType, body, out, true); err != nil {
		return err
	}
	return nil
}

func (a *API) doOnce(ctx context.Context, hc *http.Client, method, path string, query url.Values, contentType string, body []byte, out interface{}, allowRefresh bool) error {
	u := a.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	a.mu.Lock()
	access := a.accessToken
	a.mu.Unlock()
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh {
		if err := a.refresh(ctx); err != nil {
			return err
		}
		return a.doOnce(ctx, hc, method, path, query, contentType, body, out, false)
	}
	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*raw = data
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Error.Code == "" {
		body.Error.Message = strings.TrimSpace(string(data))
	}
	return &apiError{Status: resp.StatusCode, Code: body.Error.Code, Message: body.Error.Message}
}

func (a *API) refresh(ctx context.Context) error {
	a.mu.Lock()
	refresh := a.refreshToken
	a.mu.Unlock()
	if refresh == "" {
		return &apiError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "no refresh token"}
	}
	payload, _ := json.Marshal(map[string]string{
		"refresh_token": refresh,
		"device_id":     a.DeviceID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.meta.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	a.mu.Lock()
	a.accessToken = out.AccessToken
	a.refreshToken = out.RefreshToken
	a.mu.Unlock()
	return nil
}

type UserInfo struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	User         UserInfo `json:"user"`
}

func (a *API) Register(ctx context.Context, email, password, username string) (*UserInfo, error) {
	payload, _ := json.Marshal(map[string]string{
		"email": email, "password": password, "username": username, "device_id": a.DeviceID,
	})
	var out tokenResponse
	if err := a.do(ctx, a.meta, http.MethodPost, "/api/auth/register", nil, "application/json", payload, &out); err != nil {
		return nil, err
	}
	a.SetTokens(out.AccessToken, out.RefreshToken)
	return &out.User, nil
}

func (a *API) Login(ctx context.Context, email, password string) (*UserInfo, error) {
	payload, _ := json.Marshal(map[string]string{
		"email": email, "password": password, "device_id": a.DeviceID,
	})
	var out tokenResponse
	if err := a.do(ctx, a.meta, http.MethodPost, "/api/auth/login", nil, "application/json", payload, &out); err != nil {
		return nil, err
	}
	a.SetTokens(out.AccessToken, out.RefreshToken)
	return &out.User, nil
}

func (a *API) CreateApp(ctx context.Context, slug, title string) (uint, error) {
	payload, _ := json.Marshal(map[string]string{"slug": slug, "title": title})
	var out struct {
		ID uint `json:"id"`
	}
	err := a.do(ctx, a.meta, http.MethodPost, "/api/dev/apps", nil, "application/json", payload, &out)
	return out.ID, err
}

type AppInfo struct {
	ID       uint   `json:"id"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Approved bool   `json:"approved"`
}

func (a *API) MyApps(ctx context.Context) ([]AppInfo, error) {
	var out struct {
		Items []AppInfo `json:"items"`
	}
	err := a.do(ctx, a.meta, http.MethodGet, "/api/dev/my-apps", nil, "", nil, &out)
	return out.Items, err
}

func (a *API) CreateBuild(ctx context.Context, appID uint, version, platform, channel string) (uint, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"app_id": appID, "version": version, "platform": platform, "channel": channel,
	})
	var out struct {
		ID uint `json:"id"`
	}
	err := a.do(ctx, a.meta, http.MethodPost, "/api/dev/builds", nil, "application/json", payload, &out)
	return out.ID, err
}

func (a *API) MissingChunks(ctx context.Context, buildID uint, hashes []string) ([]string, error) {
	payload, _ := json.Marshal(map[string][]string{"hashes": hashes})
	var out struct {
		Missing []string `json:"missing"`
	}
	err := a.do(ctx, a.meta, http.MethodPost, fmt.Sprintf("/api/dev/builds/%d/missing-chunks", buildID), nil, "application/json", payload, &out)
	return out.Missing, err
}

func (a *API) UploadChunk(ctx context.Context, hash string, data []byte) error {
	return a.do(ctx, a.chunk, http.MethodPost, "/api/dev/chunk/"+hash, nil, "application/octet-stream", data, nil)
}

func (a *API) Finalize(ctx context.Context, buildID uint, m *manifest.Manifest) (string, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	var out struct {
		ManifestURL string `json:"manifest_url"`
	}
	err = a.do(ctx, a.meta, http.MethodPost, fmt.Sprintf("/api/dev/builds/%d/finalize", buildID), nil, "application/json", payload, &out)
	return out.ManifestURL, err
}

func (a *API) GetManifest(ctx context.Context, slug, platform, channel, version string) (*manifest.Manifest, error) {
	query := url.Values{}
	if version != "" {
		query.Set("version", version)
	}
	var m manifest.Manifest
	path := fmt.Sprintf("/api/manifest/%s/%s/%s", slug, platform, channel)
	if err := a.do(ctx, a.meta, http.MethodGet, path, query, "", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *API) GetChunk(ctx context.Context, hash, slug, version, platform, channel string) ([]byte, error) {
	query := url.Values{
		"slug":     {slug},
		"version":  {version},
		"platform": {platform},
		"channel":  {channel},
	}
	var data []byte
	if err := a.do(ctx, a.chunk, http.MethodGet, "/storage/chunks/"+hash, query, "", nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *API) ReportPurchase(ctx context.Context, appID uint, price float64) error {
	payload, _ := json.Marshal(map[string]interface{}{"app_id": appID, "price": price})
	return a.do(ctx, a.meta, http.MethodPost, "/api/user/purchases/report", nil, "application/json", payload, nil)
}
