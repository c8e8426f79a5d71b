package notify

import (
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlojansen/logcraft/internal/search"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Subscription
	fail map[string]int // endpoint -> status code to fail with
}

func (f *fakeSender) Send(payload []byte, sub Subscription) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code, ok := f.fail[sub.Endpoint]; ok {
		return code, &statusError{code}
	}
	f.sent = append(f.sent, sub)
	return http.StatusCreated, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "send failed" }

func validSub(endpoint string) Subscription {
	s := Subscription{Endpoint: endpoint}
	s.Keys.P256DH = "p256dh-key"
	s.Keys.Auth = "auth-key"
	return s
}

func TestStoreUpsertListRemove(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "subs.json"))

	require.NoError(t, store.Upsert(validSub("https://push.example/a")))
	require.NoError(t, store.Upsert(validSub("https://push.example/b")))

	subs, err := store.List()
	require.NoError(t, err)
	require.Len(t, subs, 2)

	require.NoError(t, store.RemoveByEndpoint("https://push.example/a"))
	subs, err = store.List()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "https://push.example/b", subs[0].Endpoint)
}

func TestStoreUpsertReplacesSameEndpoint(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "subs.json"))

	require.NoError(t, store.Upsert(validSub("https://push.example/a")))
	sub2 := validSub("https://push.example/a")
	sub2.Keys.Auth = "new-auth-key"
	require.NoError(t, store.Upsert(sub2))

	subs, err := store.List()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "new-auth-key", subs[0].Keys.Auth)
}

func TestStoreUpsertRejectsInvalidSubscription(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "subs.json"))
	err := store.Upsert(Subscription{Endpoint: "https://push.example/a"})
	require.Error(t, err)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.json")
	store1 := NewStore(path)
	require.NoError(t, store1.Upsert(validSub("https://push.example/a")))

	store2 := NewStore(path)
	subs, err := store2.List()
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestEnsureVAPIDKeysGeneratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")

	pub1, priv1, generated1, err := EnsureVAPIDKeys(path, "mailto:test@example.com")
	require.NoError(t, err)
	require.True(t, generated1)
	require.NotEmpty(t, pub1)
	require.NotEmpty(t, priv1)

	pub2, priv2, generated2, err := EnsureVAPIDKeys(path, "mailto:test@example.com")
	require.NoError(t, err)
	require.False(t, generated2)
	require.Equal(t, pub1, pub2)
	require.Equal(t, priv1, priv2)
}

func TestNotifySearchFinishedSendsToAllSubscribers(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "subs.json"))
	require.NoError(t, store.Upsert(validSub("https://push.example/a")))
	require.NoError(t, store.Upsert(validSub("https://push.example/b")))

	sender := &fakeSender{}
	n := New(store, sender)
	n.NotifySearchFinished("ERROR", 3, search.Completed)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 2)
}

func TestNotifySearchFinishedSkipsWhenNoSubscribers(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "subs.json"))
	sender := &fakeSender{}
	n := New(store, sender)
	n.NotifySearchFinished("ERROR", 0, search.Completed)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Empty(t, sender.sent)
}

func TestNotifySearchFinishedRemovesGoneSubscription(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "subs.json"))
	require.NoError(t, store.Upsert(validSub("https://push.example/gone")))

	sender := &fakeSender{fail: map[string]int{"https://push.example/gone": http.StatusGone}}
	n := New(store, sender)
	n.NotifySearchFinished("ERROR", 1, search.Completed)

	subs, err := store.List()
	require.NoError(t, err)
	require.Empty(t, subs)
}
