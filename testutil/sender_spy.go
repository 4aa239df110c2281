package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/circulib/lending-engine-go/notify"
)

// SentNotification is one captured Send call.
type SentNotification struct {
	Recipient string
	Template  notify.TemplateKind
	Params    map[string]string
}

// SenderSpy is a notify.Sender implementation that captures sent
// notifications and can be primed to fail. Safe for concurrent use.
type SenderSpy struct {
	mu       sync.Mutex
	sent     []SentNotification
	failures int
	failWith error
}

// NewSenderSpy creates an empty spy that delivers everything successfully.
func NewSenderSpy() *SenderSpy {
	return &SenderSpy{sent: make([]SentNotification, 0)}
}

// FailNext makes the next n Send calls return err before delivery resumes.
func (s *SenderSpy) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = n
	s.failWith = err
}

// Send implements notify.Sender.
func (s *SenderSpy) Send(_ context.Context, recipient string, template notify.TemplateKind, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return s.failWith
	}

	paramsCopy := make(map[string]string, len(params))
	for k, v := range params {
		paramsCopy[k] = v
	}

	s.sent = append(s.sent, SentNotification{
		Recipient: recipient,
		Template:  template,
		Params:    paramsCopy,
	})

	return nil
}

// Sent returns a copy of all captured notifications.
func (s *SenderSpy) Sent() []SentNotification {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := make([]SentNotification, len(s.sent))
	copy(sent, s.sent)

	return sent
}

// SentCount returns the number of captured notifications.
func (s *SenderSpy) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sent)
}

// HasSent checks whether a notification with the given template went to the
// given recipient.
func (s *SenderSpy) HasSent(recipient string, template notify.TemplateKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.sent {
		if n.Recipient == recipient && n.Template == template {
			return true
		}
	}

	return false
}

// StaticResolver is a notify.RecipientResolver backed by a fixed map.
type StaticResolver struct {
	recipients map[uuid.UUID]notify.Recipient
}

// NewStaticResolver creates a resolver that knows the given borrowers.
func NewStaticResolver(recipients map[uuid.UUID]notify.Recipient) *StaticResolver {
	return &StaticResolver{recipients: recipients}
}

// Resolve implements notify.RecipientResolver.
func (r *StaticResolver) Resolve(_ context.Context, borrowerID uuid.UUID) (notify.Recipient, error) {
	recipient, ok := r.recipients[borrowerID]
	if !ok {
		return notify.Recipient{}, notify.ErrRecipientUnknown
	}

	return recipient, nil
}
