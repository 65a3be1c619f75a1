// Package csrf protects the portal's form posts. Tokens are either kept in
// a Storage keyed by the browser session, or signed and verified without
// server state.
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrTokenExpired     = errors.New("CSRF token expired")
	ErrSecureKeyMissing = errors.New("CSRF secure key required for stateless mode")
)

// DefaultTokenLength is the default length for CSRF tokens
const DefaultTokenLength = 32

// DefaultContextKey is the default key for storing CSRF tokens in locals
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// DefaultTemplateHelpersKey defines the default locals key the template
// helpers are merged into.
var DefaultTemplateHelpersKey = auth.TemplateHelpersKey

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// TokenLength defines the length of the generated token
	TokenLength int

	// ContextKey defines the locals key the token is stored under
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// Storage keeps one token per browser session.
	// If nil, tokens are signed with SecureKey (stateless)
	Storage Storage

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SuccessHandler runs once the request passed, it defaults to ctx.Next
	SuccessHandler router.HandlerFunc

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	// SecureKey signs stateless tokens, at least 32 bytes. A random key is
	// generated when empty, which does not survive restarts.
	SecureKey []byte

	// DisableTemplateHelpers stops the middleware from merging csrf_token,
	// csrf_field, csrf_meta and csrf_header_name into TemplateHelpersKey.
	DisableTemplateHelpers bool

	// TemplateHelpersKey is the locals key the helpers are merged into.
	TemplateHelpersKey string

	// Now is the clock used for stateless tokens
	Now func() time.Time
}

// Storage keeps CSRF tokens. Get returns an empty string for unknown keys.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) string

// New creates a new CSRF middleware
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			token, err := getOrGenerateToken(ctx, cfg)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)
			if !cfg.DisableTemplateHelpers {
				ctx.LocalsMerge(cfg.TemplateHelpersKey, ViewData(ctx, cfg.ContextKey))
			}

			// safe methods don't require validation
			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				return cfg.SuccessHandler(ctx)
			}

			if err := validateToken(ctx, cfg, token); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// Rotate drops the stored token of the request's session, the next request
// gets a fresh one. Call it after sign in and sign out.
func Rotate(c router.Context, storage Storage) error {
	if storage == nil {
		return nil
	}
	return storage.Delete(c.Context(), sessionKey(c))
}

func getOrGenerateToken(c router.Context, cfg Config) (string, error) {
	if cfg.Storage != nil {
		key := sessionKey(c)
		if token, err := cfg.Storage.Get(c.Context(), key); err == nil && token != "" {
			return token, nil
		}

		token, err := generateToken(cfg.TokenLength)
		if err != nil {
			return "", err
		}

		if err := cfg.Storage.Set(c.Context(), key, token, cfg.Expiration); err != nil {
			return "", err
		}

		return token, nil
	}

	// every unexpired token signed for the session validates, so forms
	// opened in other tabs keep working
	return generateStatelessToken(c, cfg)
}

func validateToken(c router.Context, cfg Config, expected string) error {
	received := extractToken(c, cfg)
	if received == "" {
		return ErrTokenMissing
	}

	if cfg.Storage != nil {
		if expected == "" || subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
			return ErrTokenMismatch
		}
		return nil
	}

	return validateStatelessToken(c, cfg, received)
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// stateless tokens are base64(timestamp:nonce:session:hmac)
func generateStatelessToken(c router.Context, cfg Config) (string, error) {
	if len(cfg.SecureKey) == 0 {
		return "", ErrSecureKeyMissing
	}

	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce), sessionKey(c))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))

	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateStatelessToken(c router.Context, cfg Config, token string) error {
	if len(cfg.SecureKey) == 0 {
		return ErrSecureKeyMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if _, err := hex.DecodeString(parts[1]); err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(sessionKey(c))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && cfg.Now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func extractToken(c router.Context, cfg Config) string {
	for _, extractor := range getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName) {
		if token := extractor(c); token != "" {
			return token
		}
	}
	return ""
}

// sessionKey ties tokens to the browser session machine, falling back to
// the client IP for requests that have none yet.
func sessionKey(c router.Context) string {
	if m, ok := auth.GetMachine(c); ok {
		return "csrf_" + m.ID()
	}
	return "csrf_ip_" + c.IP()
}

func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromForm(formField),
			extractorFromHeader(header),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			continue
		}
		switch source {
		case "form":
			extractors = append(extractors, extractorFromForm(name))
		case "header":
			extractors = append(extractors, extractorFromHeader(name))
		}
	}

	return extractors
}

func extractorFromForm(fieldName string) TokenExtractor {
	return func(c router.Context) string {
		return c.FormValue(fieldName)
	}
}

func extractorFromHeader(headerName string) TokenExtractor {
	return func(c router.Context) string {
		return c.GetString(headerName, "")
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.TemplateHelpersKey == "" {
		cfg.TemplateHelpersKey = DefaultTemplateHelpersKey
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey, cfg.Storage)

	return cfg
}

func defaultErrorHandler(c router.Context, err error) error {
	status := router.StatusInternalServerError
	message := "CSRF validation error"

	switch err {
	case ErrTokenMissing:
		status, message = router.StatusBadRequest, "CSRF token missing"
	case ErrTokenMismatch:
		status, message = router.StatusForbidden, "CSRF token mismatch"
	case ErrTokenExpired:
		status, message = router.StatusForbidden, "CSRF token expired"
	case ErrSecureKeyMissing:
		message = "CSRF configuration error"
	}

	if auth.WantsJSON(c) {
		return c.JSON(status, map[string]any{"error": message})
	}
	return c.Status(status).SendString(message)
}

func initializeSecureKey(current []byte, storage Storage) []byte {
	if storage != nil {
		return current
	}
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}

// ViewData returns the template values for the token stored under tokenKey.
func ViewData(c router.Context, tokenKey string) map[string]any {
	if tokenKey == "" {
		tokenKey = DefaultContextKey
	}

	token, _ := c.Locals(tokenKey).(string)

	fieldName := DefaultFormFieldName
	if v, ok := c.Locals(tokenKey + "_field").(string); ok && v != "" {
		fieldName = v
	}

	headerName := DefaultHeaderName
	if v, ok := c.Locals(tokenKey + "_header").(string); ok && v != "" {
		headerName = v
	}

	return map[string]any{
		"csrf_token":       token,
		"csrf_field":       `<input type="hidden" name="` + fieldName + `" value="` + token + `">`,
		"csrf_meta":        `<meta name="csrf-token" content="` + token + `">`,
		"csrf_header_name": headerName,
	}
}

// TokenHandler responds with the request's token and where to send it.
// Mount it after the middleware, for example on GET /csrf.
func TokenHandler(contextKey ...string) router.HandlerFunc {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}

	return func(c router.Context) error {
		data := ViewData(c, key)
		token, _ := data["csrf_token"].(string)
		if token == "" {
			return c.JSON(router.StatusUnauthorized, map[string]any{
				"error": ErrTokenMissing.Error(),
			})
		}

		c.SetHeader("Cache-Control", "no-store, max-age=0")
		c.SetHeader("Pragma", "no-cache")
		c.SetHeader("Expires", "0")

		fieldName, _ := c.Locals(key + "_field").(string)
		return c.JSON(router.StatusOK, map[string]any{
			"token":       token,
			"field_name":  fieldName,
			"header_name": data["csrf_header_name"],
		})
	}
}

// MemoryStorage keeps tokens in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return "", nil
	}
	return entry.value, nil
}

func (s *MemoryStorage) Set(_ context.Context, key, value string, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if expiration > 0 {
		entry.expiresAt = s.now().Add(expiration)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
