package canvas

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// autosaver calls Session.Save on a fixed interval until stopped. Failures
// are logged and never reach the editing user.
type autosaver struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func startAutosave(s *Session, interval time.Duration) *autosaver {
	a := &autosaver{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go a.run(s, interval)
	return a
}

func (a *autosaver) run(s *Session, interval time.Duration) {
	defer close(a.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			d, err := s.Save(ctx)
			cancel()
			if err != nil {
				logrus.WithError(err).WithField("session_id", s.ID()).Warn("Autosave failed")
				continue
			}
			logrus.WithFields(logrus.Fields{
				"session_id": s.ID(),
				"drawing_id": d.ID,
			}).Debug("Autosaved")
		}
	}
}

// stop ends the loop and waits for an in-flight save to finish.
func (a *autosaver) stop() {
	a.once.Do(func() { close(a.quit) })
	<-a.done
}
