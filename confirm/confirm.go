// Package confirm provides the yes/no gate placed in front of destructive
// actions.
package confirm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ErrPromptNotFound is returned when resolving an unknown or already answered prompt.
var ErrPromptNotFound = errors.New("prompt not found")

// Emphasis is the visual weight of the confirm button.
type Emphasis string

const (
	EmphasisPrimary Emphasis = "primary"
	EmphasisAccent  Emphasis = "accent"
	EmphasisWarn    Emphasis = "warn"
)

// Prompt is one pending question.
type Prompt struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	ConfirmLabel string    `json:"confirmLabel"`
	CancelLabel  string    `json:"cancelLabel"`
	Emphasis     Emphasis  `json:"emphasis"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Confirmer asks the user a question and reports the answer. Only a true
// result with a nil error allows the calling action to proceed.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// Func adapts a plain function to Confirmer.
type Func func(ctx context.Context, prompt Prompt) (bool, error)

func (f Func) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

// Always answers every prompt with answer.
func Always(answer bool) Confirmer {
	return Func(func(context.Context, Prompt) (bool, error) {
		return answer, nil
	})
}

func ClearCanvasPrompt() Prompt {
	return Prompt{
		Title:        "Clear canvas",
		Message:      "Are you sure you want to clear the canvas? This can be undone.",
		ConfirmLabel: "Clear",
		CancelLabel:  "Cancel",
		Emphasis:     EmphasisWarn,
	}
}

func DeleteDrawingPrompt(name string) Prompt {
	return Prompt{
		Title:        "Delete drawing",
		Message:      "Are you sure you want to delete \"" + name + "\"? This cannot be undone.",
		ConfirmLabel: "Delete",
		CancelLabel:  "Cancel",
		Emphasis:     EmphasisWarn,
	}
}

func DeleteAllPrompt() Prompt {
	return Prompt{
		Title:        "Delete all drawings",
		Message:      "Are you sure you want to delete every drawing? This cannot be undone.",
		ConfirmLabel: "Delete all",
		CancelLabel:  "Cancel",
		Emphasis:     EmphasisWarn,
	}
}

type pending struct {
	prompt Prompt
	answer chan bool
}

// Broker is a Confirmer whose prompts are answered out of band, for example
// by an HTTP request or a socket event. Confirm blocks until Resolve is
// called with the prompt's id or ctx is done.
type Broker struct {
	mu          sync.Mutex
	pending     map[string]*pending
	subscribers map[int]func(Prompt)
	nextSub     int
}

var _ Confirmer = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{
		pending:     make(map[string]*pending),
		subscribers: make(map[int]func(Prompt)),
	}
}

// Confirm registers prompt, notifies subscribers and waits for the answer.
// A cancelled context is a negative answer and returns ctx.Err().
func (b *Broker) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	prompt.ID = ulid.Make().String()
	prompt.CreatedAt = time.Now()
	p := &pending{prompt: prompt, answer: make(chan bool, 1)}

	b.mu.Lock()
	b.pending[prompt.ID] = p
	subs := make([]func(Prompt), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"prompt_id": prompt.ID,
		"title":     prompt.Title,
	})
	log.Debug("Waiting for confirmation")

	for _, fn := range subs {
		fn(prompt)
	}

	select {
	case accepted := <-p.answer:
		log.WithField("accepted", accepted).Info("Confirmation answered")
		return accepted, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, prompt.ID)
		b.mu.Unlock()
		log.Info("Confirmation abandoned")
		return false, ctx.Err()
	}
}

// Resolve answers the prompt with the given id.
func (b *Broker) Resolve(id string, accepted bool) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrPromptNotFound
	}
	p.answer <- accepted
	return nil
}

// Pending returns the unanswered prompts, oldest first.
func (b *Broker) Pending() []Prompt {
	b.mu.Lock()
	out := make([]Prompt, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.prompt)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe calls fn for every new prompt until the returned function is
// called. fn runs on the goroutine calling Confirm and must not block.
func (b *Broker) Subscribe(fn func(Prompt)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}
