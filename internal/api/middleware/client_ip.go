// client_ip.go — определение IP-адреса клиента.
package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP возвращает IP клиента по принципу best effort: первый адрес
// из X-Forwarded-For (выставляется доверенным ingress), иначе RemoteAddr
// без порта. Значение используется для rate limiting и security-логов,
// не для авторизации.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
