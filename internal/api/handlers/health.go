// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arturkryukov/gostipend/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// DatabaseChecker — проверка готовности подключения к БД.
type DatabaseChecker interface {
	CheckReady() (status string, message string)
}

// DependencyChecker — состояние внешних зависимостей из мониторинга.
// Ключ — имя зависимости, значение — true если ok.
type DependencyChecker interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// storageDir — путь к директории вложений (для проверки FS)
	storageDir string
	// db — проверка подключения к PostgreSQL
	db DatabaseChecker
	// deps — мониторинг внешних зависимостей. Недоступный upstream
	// не валит readiness, pod без него частично работоспособен.
	deps DependencyChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// db и deps — nil отключает соответствующую проверку (для тестов).
func NewHealthHandler(storageDir string, db DatabaseChecker, deps DependencyChecker) *HealthHandler {
	return &HealthHandler{
		version:    config.Version,
		storageDir: storageDir,
		db:         db,
		deps:       deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "portal-api",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директория вложений доступна на запись, PostgreSQL отвечает.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkStorage()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	dbCheck := h.checkDatabase()
	if dbCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Деградация зависимостей понижает статус, но не readiness
	depsCheck := h.checkDependencies()
	if overallStatus == "ok" && depsCheck["status"] != "ok" {
		overallStatus = "degraded"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "portal-api",
		"checks": map[string]any{
			"storage":      fsCheck,
			"database":     dbCheck,
			"dependencies": depsCheck,
		},
	})
}

// checkDependencies собирает состояние внешних зависимостей.
func (h *HealthHandler) checkDependencies() map[string]any {
	if h.deps == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	states := h.deps.Health()
	status := "ok"
	for _, ok := range states {
		if !ok {
			status = "degraded"
			break
		}
	}
	return map[string]any{
		"status":       status,
		"dependencies": states,
	}
}

// checkStorage проверяет доступность директории вложений на запись.
func (h *HealthHandler) checkStorage() map[string]any {
	if h.storageDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.storageDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория вложений недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// checkDatabase проверяет подключение к PostgreSQL.
func (h *HealthHandler) checkDatabase() map[string]any {
	if h.db == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	status, message := h.db.CheckReady()
	check := map[string]any{"status": status}
	if message != "" {
		check["message"] = message
	}
	return check
}
