package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// DefaultLocales are the interface languages offered when none are configured.
// The first entry is the fallback.
var DefaultLocales = []string{"en", "id", "es", "fr", "de", "pt", "ja", "zh"}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// Locales matches request preferences against a fixed set of languages.
type Locales struct {
	bases   []string
	matcher language.Matcher
}

// NewLocales builds a matcher over supported. Unparseable entries are skipped.
func NewLocales(supported []string) *Locales {
	l := &Locales{}
	var tags []language.Tag
	for _, s := range supported {
		tag, err := language.Parse(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		base, _ := tag.Base()
		tags = append(tags, tag)
		l.bases = append(l.bases, base.String())
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
		l.bases = []string{"en"}
	}
	l.matcher = language.NewMatcher(tags)
	return l
}

// Default returns the fallback locale.
func (l *Locales) Default() string {
	return l.bases[0]
}

func (l *Locales) match(tags ...language.Tag) (string, bool) {
	if len(tags) == 0 {
		return "", false
	}
	_, idx, conf := l.matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return l.bases[idx], true
}

// I18N stores the negotiated locale and the caller's country in the request
// context and echoes the locale as Content-Language.
func I18N(locales *Locales, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, locales, "", country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// detectLocale prefers X-Locale, then Accept-Language, then the language
// most spoken in country, then fallback.
func detectLocale(r *http.Request, locales *Locales, fallback string, country string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if tag, err := language.Parse(v); err == nil {
			if locale, ok := locales.match(tag); ok {
				return locale
			}
		}
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		if tags, _, err := language.ParseAcceptLanguage(v); err == nil {
			if locale, ok := locales.match(tags...); ok {
				return locale
			}
		}
	}
	if country != "" {
		if region, err := language.ParseRegion(country); err == nil {
			if tag, err := language.Compose(region); err == nil {
				if locale, ok := locales.match(tag); ok {
					return locale
				}
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return locales.Default()
}

// ClientIP returns the first valid X-Forwarded-For address, else the remote
// host.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(part); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := localeRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// localeRegion returns the first explicit region subtag in a language list.
func localeRegion(header string) string {
	for _, part := range strings.Split(header, ",") {
		token := strings.TrimSpace(strings.Split(part, ";")[0])
		if token == "" {
			continue
		}
		tag, err := language.Parse(token)
		if err != nil {
			continue
		}
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}
