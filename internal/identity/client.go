// Пакет identity — HTTP-клиент admin API identity-сервиса университета.
// Авторизация сервисным ключом (SP_IDENTITY_SERVICE_KEY).
// Операции: ListUsers (GET /admin/api/v1/users) с пагинацией,
// FindByEmail (GET /admin/api/v1/users?email=...).
package identity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// User — учётная запись в identity-сервисе.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
}

// UserListResponse — ответ identity-сервиса на список пользователей.
type UserListResponse struct {
	Users  []User `json:"users"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Client — HTTP-клиент identity-сервиса.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт identity-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, serviceKey, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата identity: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат identity добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "identity_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// ListUsers запрашивает страницу пользователей identity-сервиса.
func (c *Client) ListUsers(ctx context.Context, limit, offset int) (*UserListResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return c.listUsers(ctx, q)
}

// FindByEmail ищет пользователей по адресу электронной почты.
// Используется администраторами для проверки дубликатов перед
// созданием профиля. Пустой список — не ошибка.
func (c *Client) FindByEmail(ctx context.Context, email string) ([]User, error) {
	q := url.Values{}
	q.Set("email", email)

	resp, err := c.listUsers(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// listUsers выполняет GET /admin/api/v1/users с переданными параметрами.
func (c *Client) listUsers(ctx context.Context, q url.Values) (*UserListResponse, error) {
	reqURL := c.baseURL + "/admin/api/v1/users?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к identity: %w", err)
	}
	req.Header.Set("X-Service-Key", c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к identity %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("identity вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var userResp UserListResponse
	if err := json.NewDecoder(resp.Body).Decode(&userResp); err != nil {
		return nil, fmt.Errorf("декодирование ответа identity: %w", err)
	}

	return &userResp, nil
}
