package session

import (
	"net"
	"net/http"
	"strings"
)

// CookieMode selects how strict the session cookie attributes are
type CookieMode string

const (
	// CookieAuto is relaxed on development hosts and strict elsewhere
	CookieAuto CookieMode = "auto"
	// CookieRelaxed uses SameSite=Lax without Secure, for local and tunneled hosts
	CookieRelaxed CookieMode = "relaxed"
	// CookieStrict uses SameSite=Strict and Secure whenever TLS is detected
	CookieStrict CookieMode = "strict"
)

// CookiePolicy decides the attributes of the session cookie per request
type CookiePolicy struct {
	Name string
	Mode CookieMode
	// DevHosts lists exact hosts, or suffixes starting with a dot, that count
	// as development hosts in auto mode
	DevHosts []string
}

// Relaxed reports whether the relaxed attributes apply to r
func (p CookiePolicy) Relaxed(r *http.Request) bool {
	switch p.Mode {
	case CookieRelaxed:
		return true
	case CookieStrict:
		return false
	default:
		return p.isDevHost(r.Host)
	}
}

func (p CookiePolicy) isDevHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	for _, dev := range p.DevHosts {
		dev = strings.ToLower(dev)
		if strings.HasPrefix(dev, ".") {
			if strings.HasSuffix(host, dev) {
				return true
			}
			continue
		}
		if host == dev {
			return true
		}
	}
	return false
}

// isTLS reports whether the client connection is encrypted, directly or at a proxy
func isTLS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Cookie builds the session cookie for r. maxAge < 0 expires it.
func (p CookiePolicy) Cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     p.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
	}
	if p.Relaxed(r) {
		c.SameSite = http.SameSiteLaxMode
		c.Secure = false
	} else {
		c.SameSite = http.SameSiteStrictMode
		c.Secure = isTLS(r)
	}
	return c
}

// setRequestCookie replaces the named cookie on the inbound request so later
// reads within the same request see the current session id
func setRequestCookie(r *http.Request, name, value string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		r.AddCookie(c)
	}
	r.AddCookie(&http.Cookie{Name: name, Value: value})
}
