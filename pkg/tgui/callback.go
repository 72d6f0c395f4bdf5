package tgui

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes, counted over
// the full "scope:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "scope:action:payload". The payload is kept
// as-is; use PackJSON for structured values.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// PackJSON marshals v and encodes it as unpadded base64url.
func PackJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func UnpackJSON(payload string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// DataWithStore packs v into callback data, parking it in store behind a
// short token when the packed form would exceed MaxCallbackDataLen.
func DataWithStore(scope, action string, v any, store *TokenStore) (string, error) {
	payload, err := PackJSON(v)
	if err != nil {
		return "", err
	}
	data := Data(scope, action, payload)
	if len(data) <= MaxCallbackDataLen {
		return data, nil
	}
	if store == nil {
		return "", ErrCallbackDataTooLong
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	data = Data(scope, action, store.PutBytes(raw))
	if len(data) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return data, nil
}

// DecodeData reverses DataWithStore for the payload part.
func DecodeData(payload string, v any, store *TokenStore) error {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return errors.New("tgui: empty payload")
	}
	if strings.HasPrefix(payload, "~") {
		b, ok := store.GetBytes(payload)
		if !ok {
			return errors.New("tgui: button expired")
		}
		return json.Unmarshal(b, v)
	}
	return UnpackJSON(payload, v)
}
