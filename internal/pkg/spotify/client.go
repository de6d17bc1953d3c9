// Package spotify is a thin client for the parts of the Spotify Web API the
// playlist assistant uses. A Client is bound to one bearer token; callers
// that need token rotation obtain clients through the service layer.
package spotify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
)

const defaultTimeout = 15 * time.Second

// AuthError marks a 401/403 from the Web API, so callers can distinguish a
// dead token from a domain failure without matching on message text.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("spotify auth error: status %d, body: %s", e.StatusCode, e.Body)
}

// APIError covers every other non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify api error: status %d, body: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *req.Client
}

// NewClient builds a client bound to accessToken. baseURL has no trailing
// slash, e.g. "https://api.spotify.com/v1".
func NewClient(baseURL, accessToken string) *Client {
	client := req.C().
		SetTimeout(defaultTimeout).
		SetCommonBearerAuthToken(accessToken).
		SetCommonHeader("Accept", "application/json")

	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  client,
	}
}

// AccessToken returns the token this client was built from. The factory
// uses it to decide whether a cached client is still current.
func (c *Client) AccessToken() string {
	return c.accessToken
}

// User is the subset of the /me profile the service reports.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"`
	Followers   int64  `json:"followers"`
}

// CurrentUser fetches the service-account profile. It doubles as the probe
// call used to verify a token actually works.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	body, err := c.get(ctx, "/me", nil)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:          gjson.GetBytes(body, "id").String(),
		DisplayName: gjson.GetBytes(body, "display_name").String(),
		Email:       gjson.GetBytes(body, "email").String(),
		Country:     gjson.GetBytes(body, "country").String(),
		Product:     gjson.GetBytes(body, "product").String(),
		Followers:   gjson.GetBytes(body, "followers.total").Int(),
	}, nil
}

type Track struct {
	ID      string `json:"id"`
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Artist  string `json:"artist"`
	Album   string `json:"album"`
	Preview string `json:"preview_url"`
}

// SearchTracks runs a track search and flattens the results.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = 10
	}
	body, err := c.get(ctx, "/search", url.Values{
		"q":     {query},
		"type":  {"track"},
		"limit": {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}

	items := gjson.GetBytes(body, "tracks.items")
	tracks := make([]Track, 0, limit)
	items.ForEach(func(_, item gjson.Result) bool {
		tracks = append(tracks, Track{
			ID:      item.Get("id").String(),
			URI:     item.Get("uri").String(),
			Name:    item.Get("name").String(),
			Artist:  item.Get("artists.0.name").String(),
			Album:   item.Get("album.name").String(),
			Preview: item.Get("preview_url").String(),
		})
		return true
	})
	return tracks, nil
}

type Playlist struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CreatePlaylist creates a playlist owned by userID.
func (c *Client) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*Playlist, error) {
	body, err := c.post(ctx, "/users/"+url.PathEscape(userID)+"/playlists", map[string]any{
		"name":        name,
		"description": description,
		"public":      public,
	})
	if err != nil {
		return nil, err
	}
	return &Playlist{
		ID:   gjson.GetBytes(body, "id").String(),
		URI:  gjson.GetBytes(body, "uri").String(),
		Name: gjson.GetBytes(body, "name").String(),
		URL:  gjson.GetBytes(body, "external_urls.spotify").String(),
	}, nil
}

// AddTracksToPlaylist appends track URIs to a playlist and returns the
// resulting snapshot id.
func (c *Client) AddTracksToPlaylist(ctx context.Context, playlistID string, trackURIs []string) (string, error) {
	body, err := c.post(ctx, "/playlists/"+url.PathEscape(playlistID)+"/tracks", map[string]any{
		"uris": trackURIs,
	})
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "snapshot_id").String(), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	r := c.httpClient.R().SetContext(ctx)
	if query != nil {
		r.SetQueryString(query.Encode())
	}
	resp, err := r.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return c.checkResponse(resp)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return c.checkResponse(resp)
}

func (c *Client) checkResponse(resp *req.Response) ([]byte, error) {
	if resp.IsSuccessState() {
		return resp.Bytes(), nil
	}
	status := resp.StatusCode
	if status == 401 || status == 403 {
		return nil, &AuthError{StatusCode: status, Body: resp.String()}
	}
	return nil, &APIError{StatusCode: status, Body: resp.String()}
}
