// credential_state.go
// -------------------
// credentialState holds the access token a Fetcher obtained from its last refresh.
// It is a use-once credential: installed after a successful refresh and cleared when
// the batch that needed it completes, whatever the outcome.
//
// Reads hand out copies so callers never share the stored token.
package resilientfetch

import (
	"sync"

	"golang.org/x/oauth2"
)

type credentialState struct {
	mu    sync.Mutex
	token *oauth2.Token
}

func (s *credentialState) set(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// get returns a copy of the current token, or nil.
func (s *credentialState) get() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || s.token.AccessToken == "" {
		return nil
	}
	copyToken := *s.token
	return &copyToken
}

func (s *credentialState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}
