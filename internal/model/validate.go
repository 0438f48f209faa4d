package model

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/die-net/revproxy/internal/apperr"
)

const defaultSOCKS5Port = 1080

var (
	validate = validator.New()

	headerTokenRE = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

func init() {
	for tag, fn := range map[string]validator.Func{
		"httptoken": validateHTTPToken,
		"remoteurl": validateRemoteURL,
		"socks5url": validateSOCKS5URL,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("failed to register %s validator: %v", tag, err))
		}
	}
}

func validateHTTPToken(fl validator.FieldLevel) bool {
	return headerTokenRE.MatchString(fl.Field().String())
}

func validateRemoteURL(fl validator.FieldLevel) bool {
	_, err := parseRemote(fl.Field().String())
	return err == nil
}

func validateSOCKS5URL(fl validator.FieldLevel) bool {
	_, err := ParseRelay(fl.Field().String())
	return err == nil
}

func parseRemote(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

// ParseRelay parses socks5://[user[:pass]@]host[:port]. The port defaults to
// 1080.
func ParseRelay(raw string) (*Relay, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid socks5 url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "socks5") {
		return nil, fmt.Errorf("invalid socks5 url scheme: %q", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid socks5 url: path should be empty")
	}
	host := u.Hostname()
	if host == "" {
		return nil, errors.New("invalid socks5 url: missing host")
	}

	port := defaultSOCKS5Port
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid socks5 port %q", p)
		}
	}

	r := &Relay{Host: host, Port: port}
	if u.User != nil {
		r.Username = u.User.Username()
		r.Password, _ = u.User.Password()
	}
	return r, nil
}

// Prepare normalizes and validates c. It returns a copy with Relay and
// CreatedAt filled in, or a VALIDATION error. An empty RemoteHost is kept
// empty; EffectiveRemoteHost derives it from RemoteAddress at use time.
func Prepare(c ProxyConfig) (ProxyConfig, error) {
	c = c.Clone()
	normalize(&c)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return ProxyConfig{}, apperr.New(apperr.KindValidation, formatValidationErrors(verrs), nil)
		}
		return ProxyConfig{}, apperr.New(apperr.KindValidation, "config validation failed", err)
	}

	seen := make(map[string]struct{}, len(c.Headers))
	for _, h := range c.Headers {
		key := http.CanonicalHeaderKey(h.Key)
		if _, dup := seen[key]; dup {
			return ProxyConfig{}, apperr.Newf(apperr.KindValidation, "duplicate header %q", h.Key)
		}
		seen[key] = struct{}{}
	}

	c.Relay = nil
	if c.SOCKS5Proxy != "" {
		r, err := ParseRelay(c.SOCKS5Proxy)
		if err != nil {
			return ProxyConfig{}, apperr.New(apperr.KindValidation, "socks5_proxy", err)
		}
		c.Relay = r
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	return c, nil
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s", err.Namespace(), err.Tag()))
	}
	return strings.Join(msgs, "; ")
}
