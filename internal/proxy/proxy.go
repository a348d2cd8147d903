// Пакет proxy — ретрансляция запросов к upstream data API.
// Сервер внедряет собственные учётные данные (apikey, опционально HTTP
// Basic); заголовки клиента пропускаются по allow-list, всё остальное
// отбрасывается. Учётные данные клиента к upstream никогда не попадают.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Kind — классификация ошибки ретрансляции.
type Kind int

const (
	// KindNetwork — upstream недоступен: DNS, соединение, таймаут.
	KindNetwork Kind = iota
	// KindUpstream — upstream ответил, но ответ некорректен
	// (например, заявленный JSON не разбирается).
	KindUpstream
)

// Err — ошибка ретрансляции с классификацией.
type Err struct {
	Kind Kind
	Err  error
}

func (e *Err) Error() string {
	return e.Err.Error()
}

func (e *Err) Unwrap() error {
	return e.Err
}

// NetworkErr создаёт ошибку типа KindNetwork.
func NetworkErr(err error) *Err {
	return &Err{Kind: KindNetwork, Err: err}
}

// UpstreamErr создаёт ошибку типа KindUpstream.
func UpstreamErr(err error) *Err {
	return &Err{Kind: KindUpstream, Err: err}
}

// Proxy — клиент upstream data API.
type Proxy struct {
	baseURL       string
	apiKey        string
	basicUser     string
	basicPassword string
	client        *http.Client
	logger        *slog.Logger
}

// New создаёт Proxy. basicUser/basicPassword могут быть пустыми —
// тогда HTTP Basic не используется.
func New(baseURL, apiKey, basicUser, basicPassword string, timeout time.Duration, logger *slog.Logger) *Proxy {
	return &Proxy{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		basicUser:     basicUser,
		basicPassword: basicPassword,
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With(slog.String("component", "proxy")),
	}
}

// Do ретранслирует запрос r к upstream: метод, остаток пути rest и строка
// запроса передаются как есть, тело — без пересериализации. Возвращает
// ответ upstream (любой статус — не ошибка, в том числе 4xx/5xx);
// ошибка типа *Err возникает только при сбое самого обмена.
// Вызывающий код обязан закрыть Body ответа.
func (p *Proxy) Do(r *http.Request, rest string) (*http.Response, error) {
	reqURL := p.baseURL + "/" + strings.TrimLeft(rest, "/")
	if r.URL.RawQuery != "" {
		reqURL += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, reqURL, body)
	if err != nil {
		return nil, NetworkErr(fmt.Errorf("создание запроса к upstream: %w", err))
	}

	p.setHeaders(req, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("Upstream недоступен",
			slog.String("method", r.Method),
			slog.String("path", rest),
			slog.String("error", err.Error()),
		)
		return nil, NetworkErr(fmt.Errorf("запрос к upstream: %w", err))
	}

	return resp, nil
}

// setHeaders формирует заголовки запроса к upstream: allow-list входящих
// плюс внедрённые учётные данные сервера.
func (p *Proxy) setHeaders(req *http.Request, inbound http.Header) {
	// Prefer пропускается как есть (count=exact и подобные параметры)
	if v := inbound.Get("Prefer"); v != "" {
		req.Header.Set("Prefer", v)
	}

	// Authorization пропускается только со схемой Bearer: это токен
	// пользователя для upstream. Любая другая схема отбрасывается.
	if v := inbound.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		req.Header.Set("Authorization", v)
	}

	if ct := inbound.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	req.Header.Set("apikey", p.apiKey)

	// Basic внедряется только если Authorization не занят Bearer-токеном
	// пользователя: оба значения живут в одном заголовке.
	if p.basicUser != "" && req.Header.Get("Authorization") == "" {
		req.SetBasicAuth(p.basicUser, p.basicPassword)
	}
}
