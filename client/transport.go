package client

import (
	"net/http"
)

// sessionTransport adds the stored session as a bearer token. A 401 means
// the session is no longer accepted, so it is forgotten.
type sessionTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.Token()
	if err != nil {
		return nil, err
	}
	if token != "" && req.Header.Get("Authorization") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.client.mu.Lock()
		cred, _ := t.client.store.GetCredential(t.client.serverURL)
		if cred != nil && cred.SessionToken == token {
			t.client.forgetLocked()
		}
		t.client.mu.Unlock()
	}
	return resp, nil
}
