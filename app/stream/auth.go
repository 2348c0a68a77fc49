package stream

import (
	"errors"
	"net/http"
)

// Authenticator resolves the user behind a streaming request. The real
// session system lives outside this service; the gateway only needs a user
// id to pick fan-out channels.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

var ErrNoUser = errors.New("no user identity on request")

// HeaderAuthenticator trusts an upstream proxy to have authenticated the
// request and stamped the user id into a header.
type HeaderAuthenticator struct {
	Header string
}

func NewHeaderAuthenticator() *HeaderAuthenticator {
	return &HeaderAuthenticator{Header: "X-User-ID"}
}

func (a *HeaderAuthenticator) UserID(r *http.Request) (string, error) {
	userID := r.Header.Get(a.Header)
	if userID == "" {
		return "", ErrNoUser
	}
	return userID, nil
}
