// Пакет ratelimit — ограничение частоты запросов методом скользящего окна.
// Ограничитель работает в памяти процесса и носит рекомендательный характер:
// при нескольких репликах сервиса лимит действует на каждую реплику отдельно.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Limiter — абстракция счётчика запросов. Позволяет подменить реализацию
// (например, на внешнее хранилище) без изменения middleware.
type Limiter interface {
	// Allow сообщает, разрешён ли очередной запрос для ключа key
	// при лимите limit запросов за окно window.
	Allow(key string, limit int, window time.Duration) bool
	// RetryAfter возвращает время до выхода самого старого запроса
	// из окна. Для неизвестного ключа возвращает 0.
	RetryAfter(key string, window time.Duration) time.Duration
}

// entry — отметки времени запросов одного ключа, от старых к новым.
type entry struct {
	stamps []time.Time
}

// SlidingWindow — ограничитель со скользящим окном. Таблица ключей
// ограничена по размеру и TTL: неактивные ключи вытесняются, память
// не растёт безгранично.
type SlidingWindow struct {
	mu   sync.Mutex
	keys *expirable.LRU[string, *entry]

	// now подменяется в тестах
	now func() time.Time
}

// New создаёт SlidingWindow. maxKeys — максимум одновременно отслеживаемых
// ключей, idleTTL — время жизни неактивного ключа.
func New(maxKeys int, idleTTL time.Duration) *SlidingWindow {
	return &SlidingWindow{
		keys: expirable.NewLRU[string, *entry](maxKeys, nil, idleTTL),
		now:  time.Now,
	}
}

// Allow проверяет и регистрирует запрос. Отметки старше now-window
// отбрасываются; если оставшихся не меньше limit — отказ, иначе текущий
// запрос добавляется в окно. Первый запрос нового ключа всегда разрешён.
func (l *SlidingWindow) Allow(key string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.keys.Get(key)
	if !ok {
		e = &entry{}
	}

	l.trim(e, now.Add(-window))

	if len(e.stamps) >= limit {
		// Get/Add обновляют позицию ключа в LRU, активный ключ не вытесняется
		l.keys.Add(key, e)
		return false
	}

	e.stamps = append(e.stamps, now)
	l.keys.Add(key, e)
	return true
}

// RetryAfter возвращает время до освобождения места в окне ключа.
func (l *SlidingWindow) RetryAfter(key string, window time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.keys.Get(key)
	if !ok || len(e.stamps) == 0 {
		return 0
	}

	d := e.stamps[0].Add(window).Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// trim отбрасывает отметки, не попадающие в окно (не позже cutoff).
func (l *SlidingWindow) trim(e *entry, cutoff time.Time) {
	i := 0
	for i < len(e.stamps) && !e.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[i:]...)
	}
}
