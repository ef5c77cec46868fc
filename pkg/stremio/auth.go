package stremio

import (
	"net/http"
	"time"

	"addon-proxy-go/pkg/paramount"
	"addon-proxy-go/pkg/token"
)

// pollInterval is the wait the client is told to sleep between polls.
const pollInterval = 5 * time.Second

type deviceStartResponse struct {
	ActivationCode  string `json:"activationCode"`
	VerificationURL string `json:"verificationUrl"`
	Pending         string `json:"pending"`
	PollIntervalSec int    `json:"pollIntervalSec"`
}

type devicePollResponse struct {
	Status      string `json:"status"`
	Key         string `json:"key,omitempty"`
	ManifestURL string `json:"manifestUrl,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}

// DeviceStart begins the device-code login: it registers a fresh device with
// the provider and hands back the activation code plus a sealed pending token
// the client must present while polling. No login state is kept server-side.
func (h *Handlers) DeviceStart(w http.ResponseWriter, r *http.Request) {
	auth, err := h.auth.StartDeviceAuth(r.Context())
	if err != nil {
		h.log.WithError(err).Error("device auth start failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "provider unavailable"})
		return
	}

	pending, err := h.sealer.Seal(token.Pending{
		Kind:           token.KindPending,
		CreatedAt:      h.now().UnixMilli(),
		DeviceIDRaw:    auth.DeviceIDRaw,
		DeviceIDHashed: auth.DeviceIDHashed,
		ActivationCode: auth.ActivationCode,
		DeviceToken:    auth.DeviceToken,
	})
	if err != nil {
		h.log.WithError(err).Error("sealing pending token failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, deviceStartResponse{
		ActivationCode:  auth.ActivationCode,
		VerificationURL: "https://www.paramountplus.com/activate",
		Pending:         pending,
		PollIntervalSec: int(pollInterval.Seconds()),
	})
}

// DevicePoll checks whether the activation code has been entered. While the
// user has not finished, it answers "pending"; once cookies arrive it picks
// the master profile, switches to it for a personalized cookie set, and
// seals the session key that becomes the addon URL.
func (h *Handlers) DevicePoll(w http.ResponseWriter, r *http.Request) {
	pending, err := h.sealer.UnsealPending(r.URL.Query().Get("token"), h.now())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		return
	}

	cookies, done, err := h.auth.PollDeviceAuth(r.Context(), &paramount.DeviceAuth{
		DeviceIDRaw:    pending.DeviceIDRaw,
		DeviceIDHashed: pending.DeviceIDHashed,
		ActivationCode: pending.ActivationCode,
		DeviceToken:    pending.DeviceToken,
	})
	if err != nil {
		h.log.WithError(err).Error("device auth poll failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "provider unavailable"})
		return
	}
	if !done {
		writeJSON(w, http.StatusOK, devicePollResponse{Status: "pending"})
		return
	}

	var profileID int64
	if id, err := h.auth.PickProfileID(r.Context(), cookies); err == nil {
		profileID = id
		if switched, err := h.auth.SwitchProfile(r.Context(), cookies, id); err == nil && len(switched) > 0 {
			cookies = switched
		}
	}

	now := h.now()
	key, err := h.sealer.Seal(token.Session{
		Kind:      token.KindSession,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(sessionTTL).UnixMilli(),
		Cookies:   cookies,
		ProfileID: profileID,
	})
	if err != nil {
		h.log.WithError(err).Error("sealing session key failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, devicePollResponse{
		Status:      "ok",
		Key:         key,
		ManifestURL: h.baseOrigin() + "/stremio/" + key + "/manifest.json",
		ExpiresAt:   now.Add(sessionTTL).UnixMilli(),
	})
}
