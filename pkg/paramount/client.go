// Package paramount talks to the Paramount+ application API: device-code
// login, profile handling and stream token resolution. All calls carry the
// app's static "at" token plus the user's session cookies.
package paramount

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"addon-proxy-go/pkg/interfaces"
	"addon-proxy-go/pkg/logging"
)

const (
	// BaseURL is the provider web origin, also used as Origin/Referer on
	// CDN requests.
	BaseURL = "https://www.paramountplus.com"

	// ImageBaseURL hosts the catalog artwork.
	ImageBaseURL = "https://wwwimage-us.pplusstatic.com/base/"

	// UserAgent mimics the Android TV app build the API expects.
	UserAgent = "Paramount+/16.2.0 (com.cbs.ott; build:520000178; Android SDK 30; androidtv; SHIELD Android TV) okhttp/5.1.0"

	atToken = "ABCVvU1Pv0BRR9aWYFLAm+m8bcIJXm7a9GYpMwXFtDuq1P5ARAg6o60yilK8oQ2Eaxc="
	locale  = "en-us"

	// hashedDeviceSecret is the HMAC key the Android client derives its
	// deviceId from.
	hashedDeviceSecret = "eplustv"
)

// DeviceAuth is the state of one device-code login attempt. The whole struct
// travels back to the client inside a sealed pending token.
type DeviceAuth struct {
	DeviceIDRaw    string
	DeviceIDHashed string
	ActivationCode string
	DeviceToken    string
}

// Client is the provider API client.
type Client struct {
	http interfaces.HTTPClient
	log  *logging.Logger
}

func NewClient(http interfaces.HTTPClient, log *logging.Logger) *Client {
	return &Client{
		http: http,
		log:  log.WithComponent("paramount"),
	}
}

// CookieHeader flattens stored Set-Cookie strings into a Cookie header
// value: only the name=value pair of each cookie is sent back.
func CookieHeader(cookies []string) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pair := strings.TrimSpace(strings.SplitN(c, ";", 2)[0])
		if pair != "" {
			parts = append(parts, pair)
		}
	}
	return strings.Join(parts, "; ")
}

// StartDeviceAuth begins a device-code login and returns the activation code
// the user enters at paramountplus.com/activate.
func (c *Client) StartDeviceAuth(ctx context.Context) (*DeviceAuth, error) {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	hashed := hashDeviceID(raw)

	q := url.Values{"at": {atToken}, "deviceId": {hashed}}
	body, _, err := c.post(ctx, "/apps-api/v2.0/androidtv/ott/auth/code.json?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "device auth start")
	}

	auth := &DeviceAuth{
		DeviceIDRaw:    raw,
		DeviceIDHashed: hashed,
		ActivationCode: gjson.GetBytes(body, "activationCode").String(),
		DeviceToken:    gjson.GetBytes(body, "deviceToken").String(),
	}
	if auth.ActivationCode == "" || auth.DeviceToken == "" {
		return nil, errors.New("device auth start: incomplete response")
	}
	return auth, nil
}

// PollDeviceAuth checks whether the activation code has been entered.
// Success yields the session cookies; a pending code is not an error.
func (c *Client) PollDeviceAuth(ctx context.Context, auth *DeviceAuth) ([]string, bool, error) {
	q := url.Values{
		"activationCode": {auth.ActivationCode},
		"at":             {atToken},
		"deviceId":       {auth.DeviceIDHashed},
		"deviceToken":    {auth.DeviceToken},
	}
	body, cookies, err := c.post(ctx, "/apps-api/v2.0/androidtv/ott/auth/status.json?"+q.Encode(), nil)
	if err != nil {
		// The status endpoint answers 4xx while the code is unused.
		return nil, false, nil
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return nil, false, nil
	}
	if len(cookies) == 0 {
		return nil, false, errors.New("device auth: success without cookies")
	}
	return cookies, true, nil
}

// PickProfileID returns the account's active profile, falling back to the
// master profile.
func (c *Client) PickProfileID(ctx context.Context, cookies []string) (int64, error) {
	q := url.Values{"at": {atToken}, "locale": {locale}}
	body, err := c.get(ctx, "/apps-api/v3.0/androidtv/login/status.json?"+q.Encode(), cookies)
	if err != nil {
		return 0, errors.Wrap(err, "login status")
	}

	if id := gjson.GetBytes(body, "activeProfile.id").Int(); id != 0 {
		return id, nil
	}
	var masterID int64
	gjson.GetBytes(body, "accountProfiles").ForEach(func(_, p gjson.Result) bool {
		if p.Get("isMasterProfile").Bool() {
			masterID = p.Get("id").Int()
			return false
		}
		return true
	})
	if masterID == 0 {
		return 0, errors.New("no master profile found")
	}
	return masterID, nil
}

// SwitchProfile activates a profile and returns the refreshed cookies the
// provider issues for it.
func (c *Client) SwitchProfile(ctx context.Context, cookies []string, profileID int64) ([]string, error) {
	q := url.Values{"at": {atToken}, "locale": {locale}}
	path := "/apps-api/v2.0/androidtv/user/account/profile/switch/" + strconv.FormatInt(profileID, 10) + ".json?" + q.Encode()

	_, fresh, err := c.postWithCookies(ctx, path, []byte("{}"), cookies)
	if err != nil {
		return nil, errors.Wrap(err, "profile switch")
	}
	if len(fresh) == 0 {
		return cookies, nil
	}
	return fresh, nil
}

func hashDeviceID(raw string) string {
	mac := hmac.New(sha1.New, []byte(hashedDeviceSecret))
	mac.Write([]byte(raw))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))[:16]
}

func (c *Client) get(ctx context.Context, path string, cookies []string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if len(cookies) > 0 {
		req.Header.Set("Cookie", CookieHeader(cookies))
	}
	return c.roundTrip(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, []string, error) {
	return c.postWithCookies(ctx, path, body, nil)
}

func (c *Client) postWithCookies(ctx context.Context, path string, body []byte, cookies []string) ([]byte, []string, error) {
	if body == nil {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	if len(cookies) > 0 {
		req.Header.Set("Cookie", CookieHeader(cookies))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, nil, errors.Errorf("provider POST %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return data, resp.Header.Values("Set-Cookie"), nil
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Errorf("provider GET %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return data, nil
}
