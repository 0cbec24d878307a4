package worker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jacokyle01/remote-uci/src/uci"
)

// Registration is what the remote service needs to know to route analysis
// to this provider.
type Registration struct {
	RelayURL          string
	Secret            string
	Name              string
	MaxThreads        int
	MaxHash           int
	Variants          []string
	OfficialStockfish bool
}

// NewRegistration describes the running engine. name overrides the engine's
// own id name; lim holds the host-bounded resource caps, which are narrowed
// further to what the engine declares.
func NewRegistration(caps *uci.Capabilities, relayURL, secret, name string, lim Limits, official bool) Registration {
	r := Registration{
		RelayURL:          relayURL,
		Secret:            secret,
		Name:              name,
		MaxThreads:        lim.MaxThreads,
		MaxHash:           lim.MaxHash,
		OfficialStockfish: official,
	}
	if caps == nil {
		return r
	}
	if r.Name == "" {
		r.Name = caps.Name
	}
	r.MaxThreads = boundBySpin(caps, "Threads", r.MaxThreads)
	r.MaxHash = boundBySpin(caps, "Hash", r.MaxHash)
	r.Variants = caps.Variants()
	return r
}

func boundBySpin(caps *uci.Capabilities, name string, limit int) int {
	opt, ok := caps.Lookup(name)
	if !ok || opt.Type != uci.TypeSpin || opt.Max == nil {
		return limit
	}
	if limit <= 0 || int64(limit) > *opt.Max {
		return int(*opt.Max)
	}
	return limit
}

// URL encodes the registration as a query on base.
func (r Registration) URL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("registration url: %w", err)
	}

	q := u.Query()
	q.Set("url", r.RelayURL)
	q.Set("secret", r.Secret)
	if r.Name != "" {
		q.Set("name", r.Name)
	}
	if r.MaxThreads > 0 {
		q.Set("maxThreads", strconv.Itoa(r.MaxThreads))
	}
	if r.MaxHash > 0 {
		q.Set("maxHash", strconv.Itoa(r.MaxHash))
	}
	if len(r.Variants) > 0 {
		q.Set("variants", strings.Join(r.Variants, ","))
	}
	if r.OfficialStockfish {
		q.Set("officialStockfish", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LoadSecret reads the provider secret from path. Without a path, a
// missing file or an empty one, a random secret is returned. It is kept in
// memory only, so the relay sees a new provider on every start.
func LoadSecret(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				return s, nil
			}
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("read secret: %w", err)
		}
	}
	return NewSecret(), nil
}

// NewSecret returns 128 random bits as 32 hex characters.
func NewSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
