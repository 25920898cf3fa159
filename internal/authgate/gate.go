// Package authgate decides whether an HTTP caller may use the server.
// Loopback callers always pass; everyone else needs Basic credentials.
package authgate

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("authgate")

var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTooManyFailures is returned while an address is locked out after
	// repeated bad credentials.
	ErrTooManyFailures = errors.New("too many failed authentication attempts")
)

// Credentials are fixed at startup. PasswordHash (bcrypt) takes precedence
// over Password.
type Credentials struct {
	Username     string
	Password     string
	PasswordHash string
}

func (c Credentials) configured() bool {
	return c.Username != "" && (c.Password != "" || c.PasswordHash != "")
}

type Options struct {
	Credentials Credentials
	// AllowUnauthenticatedRemote lets non-loopback callers in when no
	// credentials are configured. Off by default.
	AllowUnauthenticatedRemote bool
	MaxFailures                int
	FailureWindow              time.Duration
}

type Gate struct {
	creds      Credentials
	allowOpen  bool
	userDigest [sha256.Size]byte
	passDigest [sha256.Size]byte
	limiter    *FailureLimiter
}

func New(opts Options) *Gate {
	if opts.MaxFailures < 1 {
		opts.MaxFailures = 5
	}
	if opts.FailureWindow <= 0 {
		opts.FailureWindow = 5 * time.Minute
	}
	g := &Gate{
		creds:      opts.Credentials,
		allowOpen:  opts.AllowUnauthenticatedRemote,
		userDigest: sha256.Sum256([]byte(opts.Credentials.Username)),
		passDigest: sha256.Sum256([]byte(opts.Credentials.Password)),
		limiter:    NewFailureLimiter(opts.MaxFailures, opts.FailureWindow),
	}
	if !g.creds.configured() {
		if g.allowOpen {
			log.Warn("no credentials configured, remote callers are allowed without authentication")
		} else {
			log.Info("no credentials configured, remote callers will be denied")
		}
	}
	return g
}

// IsLocal reports whether remoteAddr (host:port as in http.Request.RemoteAddr)
// is a loopback address. Forwarding headers are never consulted.
func IsLocal(remoteAddr string) bool {
	host := remoteHost(remoteAddr)
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.Trim(remoteAddr, "[]")
	}
	return host
}

// Authorize checks a request and returns nil when it may proceed.
func (g *Gate) Authorize(r *http.Request) error {
	if IsLocal(r.RemoteAddr) {
		return nil
	}

	if !g.creds.configured() {
		if g.allowOpen {
			return nil
		}
		return ErrUnauthorized
	}

	key := remoteHost(r.RemoteAddr)
	if g.limiter.Blocked(key) {
		return ErrTooManyFailures
	}

	user, pass, ok := r.BasicAuth()
	if ok && g.verify(user, pass) {
		g.limiter.Reset(key)
		return nil
	}

	g.limiter.RecordFailure(key)
	log.Warn("rejected remote request", "remote", key, "credentialsPresent", ok)
	return ErrUnauthorized
}

func (g *Gate) verify(user, pass string) bool {
	u := sha256.Sum256([]byte(user))
	userOK := subtle.ConstantTimeCompare(u[:], g.userDigest[:]) == 1

	var passOK bool
	if g.creds.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(g.creds.PasswordHash), []byte(pass)) == nil
	} else {
		p := sha256.Sum256([]byte(pass))
		passOK = subtle.ConstantTimeCompare(p[:], g.passDigest[:]) == 1
	}
	return userOK && passOK
}

// Middleware rejects unauthorized requests before next runs. reject writes
// the response for ErrUnauthorized or ErrTooManyFailures.
func (g *Gate) Middleware(reject func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Authorize(r); err != nil {
				if errors.Is(err, ErrUnauthorized) && g.creds.configured() {
					w.Header().Set("WWW-Authenticate", `Basic realm="toastd", charset="UTF-8"`)
				}
				reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
