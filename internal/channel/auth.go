package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

const clockSkew = 5 * time.Minute

var validMethods = []string{"RS256", "RS384", "RS512"}

type tokenClaims struct {
	jwt.RegisteredClaims
	ServiceURL string `json:"serviceurl,omitempty"`
}

// Issuers of tokens minted for the Bot Framework Emulator (AAD v1 and v2).
var emulatorIssuers = []string{
	"https://sts.windows.net/d6d49420-f39b-4df7-a1dc-d59a935871db/",
	"https://login.microsoftonline.com/d6d49420-f39b-4df7-a1dc-d59a935871db/v2.0",
	"https://sts.windows.net/f8cdef31-a31e-4b4a-93e4-5f571e91255a/",
	"https://login.microsoftonline.com/f8cdef31-a31e-4b4a-93e4-5f571e91255a/v2.0",
}

// EmulatorIssuers returns the emulator issuers, plus the issuers of
// tenantID when the bot is registered single-tenant.
func EmulatorIssuers(tenantID string) []string {
	out := append([]string(nil), emulatorIssuers...)
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		out = append(out,
			"https://sts.windows.net/"+tenantID+"/",
			"https://login.microsoftonline.com/"+tenantID+"/v2.0",
		)
	}
	return out
}

// Validator checks the bearer tokens the channel service attaches to
// inbound activities.
type Validator struct {
	keyfunc jwt.Keyfunc
	appID   string
	issuers map[string]struct{}
	now     func() time.Time
}

func NewValidator(kf jwt.Keyfunc, appID string, issuers ...string) (*Validator, error) {
	if kf == nil {
		return nil, errors.New("channel: keyfunc must not be nil")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, errors.New("channel: app id must not be empty")
	}
	allowed := make(map[string]struct{}, len(issuers))
	for _, iss := range issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			allowed[iss] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, errors.New("channel: at least one issuer is required")
	}
	return &Validator{keyfunc: kf, appID: appID, issuers: allowed, now: time.Now}, nil
}

// NewJWKSValidator fetches signing keys from every URL in jwksURLs and keeps
// them refreshed in the background until ctx is done. A token is verified
// with the first key set that knows its key id.
func NewJWKSValidator(ctx context.Context, jwksURLs []string, appID string, issuers []string, log *slog.Logger) (*Validator, error) {
	if log == nil {
		return nil, errors.New("channel: logger must not be nil")
	}
	var keyfuncs []jwt.Keyfunc
	for _, u := range jwksURLs {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		jwksURL := u
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Error("jwks refresh error", "url", jwksURL, "error", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("channel: load jwks %s: %w", jwksURL, err)
		}
		keyfuncs = append(keyfuncs, jwks.Keyfunc)
	}
	if len(keyfuncs) == 0 {
		return nil, errors.New("channel: at least one jwks url is required")
	}
	return NewValidator(firstKey(keyfuncs...), appID, issuers...)
}

// firstKey tries each keyfunc in order and returns the first key found.
func firstKey(kfs ...jwt.Keyfunc) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		var errs []error
		for _, kf := range kfs {
			key, err := kf(token)
			if err == nil {
				return key, nil
			}
			errs = append(errs, err)
		}
		return nil, errors.Join(errs...)
	}
}

// Authenticate validates authHeader for an activity addressed from
// serviceURL.
func (v *Validator) Authenticate(authHeader, serviceURL string) error {
	raw := bearerToken(authHeader)
	if raw == "" {
		return newError(ErrorUnauthorized, "missing_bearer_token", nil)
	}

	var claims tokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, v.keyfunc,
		jwt.WithValidMethods(validMethods),
		jwt.WithAudience(v.appID),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return newError(ErrorUnauthorized, "invalid_token", err)
	}
	if !token.Valid {
		return newError(ErrorUnauthorized, "invalid_token", nil)
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return newError(ErrorUnauthorized, "invalid_issuer", nil)
	}
	if claims.ServiceURL != "" && !sameServiceURL(claims.ServiceURL, serviceURL) {
		return newError(ErrorUnauthorized, "service_url_mismatch", nil)
	}
	return nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func sameServiceURL(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}
