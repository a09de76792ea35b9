// Package auth validates Basic authorization headers against YAML
// password files and hosts the per-client accept rate limiter.
package auth

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// passwordFile is a parsed user:password map plus the file metadata
// used to invalidate it.
type passwordFile struct {
	users   map[string]string
	modTime time.Time
}

// Basic authorizes requests with RFC 7617 Basic credentials. Password
// files are cached per path and reloaded when their mtime changes.
type Basic struct {
	mu    sync.Mutex
	files map[string]*passwordFile
}

func NewBasic() *Basic {
	return &Basic{files: make(map[string]*passwordFile)}
}

var basicPrefix = []byte("Basic ")

// Authorize checks an Authorization header value against the given
// password file. An empty header, a non-Basic scheme, undecodable
// credentials or a wrong password all fail.
func (b *Basic) Authorize(authorization []byte, realm, path string) bool {
	if len(authorization) <= len(basicPrefix) {
		return false
	}
	if !bytes.Equal(authorization[:len(basicPrefix)], basicPrefix) {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(string(authorization[len(basicPrefix):]))
	if err != nil {
		return false
	}
	user, pass, found := bytes.Cut(decoded, []byte{':'})
	if !found {
		return false
	}

	users, err := b.load(path)
	if err != nil {
		return false
	}
	want, ok := users[string(user)]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), pass) == 1
}

func (b *Basic) load(path string) (map[string]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.files[path]; ok && cached.modTime.Equal(fi.ModTime()) {
		return cached.users, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	users := map[string]string{}
	if err := yaml.Unmarshal(raw, &users); err != nil {
		return nil, err
	}
	b.files[path] = &passwordFile{users: users, modTime: fi.ModTime()}
	return users, nil
}
