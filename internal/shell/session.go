package shell

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/0x0BSoD/newsMonkey/internal/feed"
	"github.com/0x0BSoD/newsMonkey/internal/model"
	"github.com/0x0BSoD/newsMonkey/internal/progress"
)

const sessionCookie = "nmk_session"

// FeedFactory builds an unstarted controller for category.
type FeedFactory func(category model.Category, progress feed.Progress) *feed.Controller

// Session is one browser's cookie: it owns the progress signal and one feed per category, so
// tabs showing different categories page independently.
type Session struct {
	ID       uuid.UUID
	Progress *progress.Bar

	mu       sync.Mutex
	feeds    map[model.Category]*feed.Controller
	lastSeen time.Time
}

func newSession(finishDelay time.Duration) *Session {
	bar := progress.New(finishDelay)
	bar.OnFinished(func() {
		bar.Set(progress.Min)
	})

	return &Session{
		ID:       uuid.New(),
		Progress: bar,
		feeds:    make(map[model.Category]*feed.Controller),
		lastSeen: time.Now(),
	}
}

// Open replaces the category's feed with a fresh controller that starts at page 1 on its first
// Next call. A fetch still running for the previous controller is abandoned.
func (s *Session) Open(category model.Category, newFeed FeedFactory) *feed.Controller {
	c := newFeed(category, s.Progress)

	s.mu.Lock()
	old := s.feeds[category]
	s.feeds[category] = c
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return c
}

// Feed returns the controller for category, or nil when the category was never opened.
func (s *Session) Feed(category model.Category) *feed.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[category]
}

// HasArticle reports whether rawURL belongs to an article loaded in any of the session's feeds.
func (s *Session) HasArticle(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	s.mu.Lock()
	feeds := lo.Values(s.feeds)
	s.mu.Unlock()

	return lo.SomeBy(feeds, func(c *feed.Controller) bool {
		return lo.ContainsBy(c.State().Articles, func(a model.Article) bool {
			return a.URL == rawURL
		})
	})
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *Session) close() {
	s.mu.Lock()
	feeds := lo.Values(s.feeds)
	clear(s.feeds)
	s.mu.Unlock()

	for _, c := range feeds {
		c.Close()
	}
}

type Sessions struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*Session
	ttl         time.Duration
	finishDelay time.Duration
}

func NewSessions(ttl, finishDelay time.Duration) *Sessions {
	return &Sessions{
		sessions:    make(map[uuid.UUID]*Session),
		ttl:         ttl,
		finishDelay: finishDelay,
	}
}

// Get returns the caller's session, creating one and setting the cookie when needed.
func (s *Sessions) Get(w http.ResponseWriter, r *http.Request) *Session {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			s.mu.Lock()
			sess, ok := s.sessions[id]
			s.mu.Unlock()
			if ok {
				sess.touch()
				return sess
			}
		}
	}

	sess := newSession(s.finishDelay)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID.String(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL.
func (s *Sessions) Sweep(now time.Time) int {
	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.idleSince(now) > s.ttl {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
	return len(expired)
}

func (s *Sessions) Start(ctx context.Context) error {
	ticker := time.NewTicker(max(s.ttl/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				log.Printf("[INFO] expired %d idle sessions", n)
			}
		}
	}
}
