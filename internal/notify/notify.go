// Package notify delivers a web-push notification when a search finishes
// while nobody is watching — the demo's answer to spec.md §6's
// search_finished event when the caller isn't an attached websocket.
// Grounded on the teacher's push_service.go/vapid_keys.go: a file-backed
// subscription store, a VAPID keypair persisted alongside it, and a
// thin sender interface so tests never hit a real push gateway.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/arlojansen/logcraft/internal/logging"
	"github.com/arlojansen/logcraft/internal/search"
)

var log = logging.ForComponent(logging.CompNotify)

// Subscription is one browser's push endpoint and encryption keys.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) normalize() Subscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s Subscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return fmt.Errorf("notify: endpoint is required")
	}
	if sub.Keys.P256DH == "" || sub.Keys.Auth == "" {
		return fmt.Errorf("notify: subscription keys are required")
	}
	return nil
}

type subscriptionFile struct {
	UpdatedAt     time.Time      `json:"updatedAt"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Store is a file-backed set of push subscriptions, persisted with the
// same write-temp-then-rename pattern as the teacher's subscription and
// VAPID key files.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens (without requiring it to exist yet) a subscription store
// backed by a JSON file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// List returns every stored subscription.
func (s *Store) List() ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Subscription, len(data.Subscriptions))
	copy(out, data.Subscriptions)
	return out, nil
}

// Upsert adds sub, or replaces the existing entry with the same endpoint.
func (s *Store) Upsert(sub Subscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readLocked()
	if err != nil {
		return err
	}

	updated := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint == sub.Endpoint {
			data.Subscriptions[i] = sub
			updated = true
			break
		}
	}
	if !updated {
		data.Subscriptions = append(data.Subscriptions, sub)
	}
	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

// RemoveByEndpoint drops the subscription with the given endpoint, if any.
func (s *Store) RemoveByEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readLocked()
	if err != nil {
		return err
	}

	filtered := make([]Subscription, 0, len(data.Subscriptions))
	for _, sub := range data.Subscriptions {
		if sub.Endpoint != endpoint {
			filtered = append(filtered, sub)
		}
	}
	data.Subscriptions = filtered
	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *Store) readLocked() (*subscriptionFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &subscriptionFile{UpdatedAt: time.Now().UTC()}, nil
		}
		return nil, fmt.Errorf("notify: read subscriptions: %w", err)
	}
	var data subscriptionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("notify: parse subscriptions: %w", err)
	}
	return &data, nil
}

func (s *Store) writeLocked(data *subscriptionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("notify: mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("notify: marshal subscriptions: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("notify: write temp subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: rename subscriptions: %w", err)
	}
	return nil
}

type vapidKeysFile struct {
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	Subject    string    `json:"subject,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EnsureVAPIDKeys loads the VAPID keypair persisted at path, generating
// and persisting a new one via webpush.GenerateVAPIDKeys if none exists.
func EnsureVAPIDKeys(path, subject string) (publicKey, privateKey string, generated bool, err error) {
	subject = strings.TrimSpace(subject)

	raw, readErr := os.ReadFile(path)
	if readErr == nil {
		var file vapidKeysFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return "", "", false, fmt.Errorf("notify: parse vapid keys: %w", err)
		}
		if file.PublicKey != "" && file.PrivateKey != "" {
			return file.PublicKey, file.PrivateKey, false, nil
		}
	} else if !errors.Is(readErr, os.ErrNotExist) {
		return "", "", false, fmt.Errorf("notify: read vapid keys: %w", readErr)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", false, fmt.Errorf("notify: generate vapid keypair: %w", err)
	}

	file := vapidKeysFile{PublicKey: pub, PrivateKey: priv, Subject: subject, CreatedAt: time.Now().UTC()}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", "", false, fmt.Errorf("notify: mkdir: %w", err)
	}
	out, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", "", false, fmt.Errorf("notify: marshal vapid keys: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return "", "", false, fmt.Errorf("notify: write vapid keys: %w", err)
	}
	return pub, priv, true, nil
}

// Sender delivers one push payload to one subscription, returning the
// gateway's HTTP status code.
type Sender interface {
	Send(payload []byte, sub Subscription) (int, error)
}

type vapidSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidSender) Send(payload []byte, sub Subscription) (int, error) {
	sub = sub.normalize()
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256DH, Auth: sub.Keys.Auth},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("notify: push gateway status %d", status)
	}
	return status, nil
}

// NewVAPIDSender builds a Sender authenticating with the given VAPID
// keypair.
func NewVAPIDSender(subject, publicKey, privateKey string) Sender {
	return &vapidSender{subject: subject, publicKey: publicKey, privateKey: privateKey}
}

type message struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Notifier pushes a notification to every stored subscription when a
// search reaches a terminal state, so a user who has switched tabs still
// hears about a long search finishing.
type Notifier struct {
	store  *Store
	sender Sender
}

// New builds a Notifier delivering through sender using the subscriptions
// in store.
func New(store *Store, sender Sender) *Notifier {
	return &Notifier{store: store, sender: sender}
}

// NotifySearchFinished sends a push notification summarizing a completed
// search. Call from the engine's OnSearchFinished callback.
func (n *Notifier) NotifySearchFinished(pattern string, matchCount int, status search.Status) {
	if n == nil || n.store == nil || n.sender == nil {
		return
	}
	subs, err := n.store.List()
	if err != nil {
		log.Error("notify_list_failed", "error", err.Error())
		return
	}
	if len(subs) == 0 {
		return
	}

	msg := message{
		Title:     "Search finished",
		Body:      searchBody(pattern, matchCount, status),
		Tag:       fmt.Sprintf("logcraft-search-%s", status.String()),
		Status:    status.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error("notify_marshal_failed", "error", err.Error())
		return
	}

	for _, sub := range subs {
		statusCode, err := n.sender.Send(payload, sub)
		if err != nil {
			log.Error("notify_send_failed", "endpoint", endpointForLog(sub.Endpoint), "status", statusCode, "error", err.Error())
			if statusCode == http.StatusGone || statusCode == http.StatusNotFound {
				_ = n.store.RemoveByEndpoint(sub.Endpoint)
			}
			continue
		}
		log.Debug("notify_sent", "endpoint", endpointForLog(sub.Endpoint), "status", statusCode)
	}
}

func searchBody(pattern string, matchCount int, status search.Status) string {
	if status != search.Completed {
		return fmt.Sprintf("%q %s", pattern, strings.ToLower(status.String()))
	}
	if matchCount == 1 {
		return fmt.Sprintf("%q matched 1 line", pattern)
	}
	return fmt.Sprintf("%q matched %d lines", pattern, matchCount)
}

func endpointForLog(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
