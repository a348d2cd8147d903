// auth.go — аутентификация и авторизация запросов портала.
// Токен доступа — RS256 JWT identity-сервиса, подпись проверяется
// локально через JWKS. После проверки токена субъект связывается
// с профилем в БД портала: валидный токен без профиля — 404,
// в отличие от невалидного токена (401).
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	apierrors "github.com/arturkryukov/gostipend/internal/api/errors"
	"github.com/arturkryukov/gostipend/internal/domain/model"
	"github.com/arturkryukov/gostipend/internal/domain/role"
	"github.com/arturkryukov/gostipend/internal/repository"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyAuth — ключ AuthContext в контексте запроса.
const ContextKeyAuth contextKey = "auth_context"

// Причины отказа для security-логов и метрик. В логи не попадают
// ни токены, ни детали криптографической проверки.
const (
	reasonNoToken        = "no_token"
	reasonMalformedToken = "malformed_token"
	reasonInvalidToken   = "invalid_token"
	reasonNoSubject      = "no_subject"
	reasonNoProfile      = "no_profile"
	reasonNotAdmin       = "not_admin"
)

// AuthContext — результат успешной аутентификации.
type AuthContext struct {
	// Subject — идентификатор пользователя в identity-сервисе (sub)
	Subject string
	// Role — роль из профиля портала
	Role string
	// Profile — профиль пользователя
	Profile *model.Profile
}

// Claims — структура JWT claims identity-сервиса.
type Claims struct {
	jwt.RegisteredClaims
}

// Guard — middleware аутентификации и авторизации.
type Guard struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	profiles  repository.ProfileRepository
	cache     *expirable.LRU[string, *model.Profile]
	logger    *slog.Logger
}

// GuardConfig — параметры создания Guard.
type GuardConfig struct {
	// URL JWKS endpoint identity-сервиса
	JWKSURL string
	// Путь к CA-сертификату (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Размер кэша профилей
	CacheSize int
	// TTL записи кэша профилей
	CacheTTL time.Duration
}

// NewGuard создаёт Guard с JWKS из указанного URL.
func NewGuard(cfg GuardConfig, profiles repository.ProfileRepository, logger *slog.Logger) (*Guard, error) {
	httpClient, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.CACertPath != "" {
		logger.Info("CA-сертификат JWKS добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq позволяет стартовать даже если JWKS endpoint
	// ещё недоступен (например, при одновременном запуске pod-ов).
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &Guard{
		jwks:      k,
		jwtLeeway: cfg.JWTLeeway,
		profiles:  profiles,
		cache:     expirable.NewLRU[string, *model.Profile](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:    logger.With(slog.String("component", "auth_guard")),
	}, nil
}

// NewGuardWithKeyfunc создаёт Guard с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewGuardWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, profiles repository.ProfileRepository, logger *slog.Logger) *Guard {
	return &Guard{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		profiles:  profiles,
		cache:     expirable.NewLRU[string, *model.Profile](128, nil, time.Minute),
		logger:    logger.With(slog.String("component", "auth_guard")),
	}
}

// buildHTTPClient создаёт HTTP-клиент JWKS с настроенным TLS и таймаутом.
func buildHTTPClient(cfg GuardConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", cfg.CACertPath, err)
		}

		caCertPool, err := x509.SystemCertPool()
		if err != nil {
			caCertPool = x509.NewCertPool()
		}
		caCertPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caCertPool
	}

	return &http.Client{
		Timeout: cfg.ClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

// RequireAuth возвращает middleware аутентификации: Bearer token →
// проверка подписи и срока → поиск профиля → AuthContext в контексте.
func (g *Guard) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				g.reject(r, reasonNoToken)
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				g.reject(r, reasonMalformedToken)
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, g.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(g.jwtLeeway),
			)
			if err != nil || !token.Valid {
				g.reject(r, reasonInvalidToken)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				g.reject(r, reasonNoSubject)
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			profile, err := g.lookupProfile(r.Context(), subject)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					g.reject(r, reasonNoProfile)
					apierrors.ProfileNotFound(w, "Профиль пользователя не найден")
					return
				}
				g.logger.Error("Ошибка поиска профиля",
					slog.String("subject", subject),
					slog.String("error", err.Error()),
				)
				apierrors.InternalError(w, "Ошибка проверки профиля")
				return
			}

			ac := &AuthContext{
				Subject: subject,
				Role:    profile.Role,
				Profile: profile,
			}
			ctx := context.WithValue(r.Context(), ContextKeyAuth, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin возвращает middleware, требующий роль admin.
// Должен использоваться ПОСЛЕ RequireAuth.
func (g *Guard) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := AuthFromContext(r.Context())
			if ac == nil {
				g.reject(r, reasonNoToken)
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}

			if !role.Satisfies(ac.Role, role.Admin) {
				g.reject(r, reasonNotAdmin)
				apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// lookupProfile возвращает профиль субъекта, используя кэш с TTL.
func (g *Guard) lookupProfile(ctx context.Context, subject string) (*model.Profile, error) {
	if p, ok := g.cache.Get(subject); ok {
		return p, nil
	}

	p, err := g.profiles.GetByUserID(ctx, subject)
	if err != nil {
		// Отсутствие профиля не кэшируется: профиль может появиться
		return nil, err
	}

	g.cache.Add(subject, p)
	return p, nil
}

// Invalidate удаляет профиль из кэша. Вызывается после изменения профиля.
func (g *Guard) Invalidate(subject string) {
	g.cache.Remove(subject)
}

// reject пишет security-событие отказа и обновляет метрику.
// В лог попадают только endpoint, IP и код причины.
func (g *Guard) reject(r *http.Request, reason string) {
	AuthFailuresTotal.WithLabelValues(reason).Inc()
	g.logger.Warn("Отказ в доступе",
		slog.String("event", "auth_reject"),
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("client_ip", ClientIP(r)),
	)
}

// AuthFromContext извлекает AuthContext из контекста запроса.
// Возвращает nil, если аутентификация не выполнялась.
func AuthFromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(ContextKeyAuth).(*AuthContext)
	return ac
}
