package chatsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/client/store"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/logging"
	"github.com/francitoshi/lettera/internal/mailx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChat = models.Chat{
	ID:             "alice-bob",
	AccountName:    "alice",
	AccountAddress: "alice@example.org",
	AccountKeyID:   "AAAA1111",
	FriendName:     "bob",
	FriendAddress:  "bob@example.org",
	FriendKeyID:    "BBBB2222",
}

// fakeCrypto "encrypts" by prefixing and reports signer as the signer of
// every message it decrypts.
type fakeCrypto struct {
	mu        sync.Mutex
	signer    string
	failPlain string
}

func (f *fakeCrypto) EncryptAndSign(plaintext []byte, signerKeyID string, _ []byte, _ ...string) ([]byte, error) {
	if f.failPlain != "" && string(plaintext) == f.failPlain {
		return nil, errors.New("boom")
	}
	return append([]byte("enc:"+signerKeyID+":"), plaintext...), nil
}

func (f *fakeCrypto) DecryptAndVerify(ciphertext []byte, _ string, _ []byte) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !bytes.HasPrefix(ciphertext, []byte("enc:")) {
		return nil, "", errors.New("not encrypted")
	}
	return append([]byte(nil), bytes.TrimPrefix(ciphertext, []byte("enc:"))...), f.signer, nil
}

type fakeOutbound struct {
	mailx.Outbound

	onSend func() // runs before each Send, outside the lock

	mu        sync.Mutex
	connected bool
	fail      int
	sent      []mailx.Message
	closed    bool
}

func (f *fakeOutbound) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeOutbound) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeOutbound) Send(_ context.Context, m mailx.Message) error {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		f.connected = false
		return errors.New("connection reset")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeOutbound) messages() []mailx.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailx.Message(nil), f.sent...)
}

type fakeInbound struct {
	mailx.Inbound

	mu     sync.Mutex
	msgs   []mailx.Message
	fail   bool
	since  []time.Time
	closed bool
}

func (f *fakeInbound) Connect(context.Context) error { return nil }
func (f *fakeInbound) IsConnected() bool             { return true }

func (f *fakeInbound) Messages(_ context.Context, since time.Time, subject string) ([]mailx.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.fail {
		return nil, errors.New("imap down")
	}
	var out []mailx.Message
	for _, m := range f.msgs {
		if m.Subject == subject && !m.Date.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeInbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type harness struct {
	store  *store.Store
	notes  *store.Notes
	crypto *fakeCrypto
	out    *fakeOutbound
	in     *fakeInbound
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "lettera.db"), []byte("store-pass"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &harness{
		store:  s,
		notes:  s.Notes(testChat.ID),
		crypto: &fakeCrypto{signer: testChat.FriendKeyID},
		out:    &fakeOutbound{},
		in:     &fakeInbound{},
	}
}

func (h *harness) engine(cfg Config) *Engine {
	return New(cfg, Deps{
		Chat:          testChat,
		Notes:         h.notes,
		Commit:        h.store.Commit,
		Crypto:        h.crypto,
		Outbound:      h.out,
		Inbound:       h.in,
		KeyPassphrase: func() ([]byte, error) { return []byte("key-pass"), nil },
		Log:           logging.Nop(),
	})
}

func TestRunCycle_SendsEveryQueuedNote(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{})
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, e.Enqueue(ctx, text))
	}
	require.Equal(t, 3, e.RunCycle(ctx))

	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, n := range all {
		assert.Equal(t, []string{"one", "two", "three"}[i], n.Text)
		assert.Positive(t, n.Sent)
		assert.Equal(t, testChat.AccountKeyID, n.KeyFrom)
	}

	sent := h.out.messages()
	require.Len(t, sent, 3)
	for _, m := range sent {
		assert.Equal(t, "lettera AAAA1111-BBBB2222", m.Subject)
		assert.Equal(t, "bob@example.org", m.To)
		assert.Equal(t, "alice@example.org", m.From)
	}
	assert.Equal(t, "enc:AAAA1111:one", string(sent[0].Body))

	require.Zero(t, e.RunCycle(ctx), "nothing left to send")
	require.Len(t, h.out.messages(), 3)
}

func TestRunCycle_FailedSendIsRetriedFromStore(t *testing.T) {
	h := newHarness(t)
	h.out.fail = 1
	e := h.engine(Config{})
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, "hello"))
	require.NoError(t, e.Enqueue(ctx, "again"))
	require.Zero(t, e.RunCycle(ctx))

	unsent, err := h.notes.Unsent(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 2, "a transport failure stops the cycle and keeps notes unsent")

	require.Equal(t, 2, e.RunCycle(ctx))
	unsent, err = h.notes.Unsent(ctx)
	require.NoError(t, err)
	require.Empty(t, unsent)
	require.Len(t, h.out.messages(), 2)
}

func TestRunCycle_CryptoFailureSkipsOnlyThatNote(t *testing.T) {
	h := newHarness(t)
	h.crypto.failPlain = "bad"
	e := h.engine(Config{})
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, "bad"))
	require.NoError(t, e.Enqueue(ctx, "good"))
	require.Equal(t, 1, e.RunCycle(ctx))

	unsent, err := h.notes.Unsent(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	require.Equal(t, "bad", unsent[0].Text)
}

func TestRunCycle_SentIsSetOnce(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{})
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, "x"))
	require.Equal(t, 1, e.RunCycle(ctx))

	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	first := all[0].Sent

	e.RunCycle(ctx)
	err = h.notes.MarkSent(ctx, all[0].Time, first+1000)
	require.ErrorIs(t, err, common.ErrAlreadySent)

	got, err := h.notes.Get(ctx, all[0].Time)
	require.NoError(t, err)
	require.Equal(t, first, got.Sent)
}

func TestEnqueue_BlocksWhenFull(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{QueueCapacity: 2})
	ctx := context.Background()

	require.NoError(t, e.Enqueue(ctx, "1"))
	require.NoError(t, e.Enqueue(ctx, "2"))

	done := make(chan error, 1)
	go func() { done <- e.Enqueue(ctx, "3") }()

	select {
	case err := <-done:
		t.Fatalf("enqueue into a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	e.RunCycle(ctx)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after drain")
	}

	e.RunCycle(ctx)
	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3, "nothing is dropped")
}

func TestEnqueue_CancelAndStop(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{QueueCapacity: 1})

	require.NoError(t, e.Enqueue(context.Background(), "fill"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Enqueue(ctx, "late"), context.DeadlineExceeded)

	e.Stop()
	require.ErrorIs(t, e.Enqueue(context.Background(), "after"), common.ErrStopped)
}

func reply(id, text string, at time.Time) mailx.Message {
	return mailx.Message{
		MessageID: id,
		From:      testChat.FriendAddress,
		To:        testChat.AccountAddress,
		Subject:   testChat.ReplySubject(),
		Date:      at,
		Body:      []byte("enc:" + text),
	}
}

func TestRunCycle_ReceivesReplies(t *testing.T) {
	h := newHarness(t)
	base := time.UnixMilli(1_700_000_000_000)
	h.in.msgs = []mailx.Message{
		reply("<1@x>", "hi alice", base),
		reply("<2@x>", "still there?", base.Add(time.Minute)),
		{MessageID: "<3@x>", Subject: "unrelated", Date: base, Body: []byte("enc:nope")},
	}
	e := h.engine(Config{})
	ctx := context.Background()

	e.RunCycle(ctx)
	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "hi alice", all[0].Text)
	assert.Equal(t, base.UnixMilli(), all[0].Received)
	assert.Equal(t, testChat.FriendKeyID, all[0].KeyFrom)
	assert.False(t, all[0].Outgoing())
	assert.Equal(t, "<2@x>", all[1].MessageID)

	e.RunCycle(ctx)
	all, err = h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2, "replies at the watermark are not stored twice")

	require.Len(t, h.in.since, 2)
	assert.True(t, h.in.since[0].IsZero(), "first poll fetches everything")
	assert.True(t, h.in.since[1].Equal(base.Add(time.Minute)))
}

func TestRunCycle_RejectsForeignSigner(t *testing.T) {
	h := newHarness(t)
	h.crypto.signer = "CCCC3333"
	h.in.msgs = []mailx.Message{reply("<1@x>", "spoof", time.UnixMilli(1_700_000_000_000))}
	e := h.engine(Config{})

	e.RunCycle(context.Background())
	all, err := h.notes.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestRunCycle_PollFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t)
	base := time.UnixMilli(1_700_000_000_000)
	h.in.msgs = []mailx.Message{reply("<1@x>", "a", base)}
	e := h.engine(Config{})
	ctx := context.Background()

	e.RunCycle(ctx)
	h.in.fail = true
	e.RunCycle(ctx)
	h.in.fail = false
	e.RunCycle(ctx)

	require.Len(t, h.in.since, 3)
	assert.True(t, h.in.since[2].Equal(base))
}

// flakyNotes fails the first failAdds calls to Add.
type flakyNotes struct {
	NoteStore
	failAdds int
}

func (f *flakyNotes) Add(ctx context.Context, note *models.Note) (int64, error) {
	if f.failAdds > 0 {
		f.failAdds--
		return 0, errors.New("disk full")
	}
	return f.NoteStore.Add(ctx, note)
}

func TestRunCycle_StoreFailureRefetchesReply(t *testing.T) {
	h := newHarness(t)
	base := time.UnixMilli(1_700_000_000_000)
	h.in.msgs = []mailx.Message{reply("<1@x>", "a", base)}
	e := New(Config{}, Deps{
		Chat:     testChat,
		Notes:    &flakyNotes{NoteStore: h.notes, failAdds: 1},
		Commit:   h.store.Commit,
		Crypto:   h.crypto,
		Outbound: h.out,
		Inbound:  h.in,
	})
	ctx := context.Background()

	e.RunCycle(ctx)
	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	e.RunCycle(ctx)
	all, err = h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].Text)
	assert.True(t, h.in.since[1].IsZero(), "watermark held back after the failed store")
}

func TestRunCycle_HistorySeedsDedup(t *testing.T) {
	h := newHarness(t)
	base := time.UnixMilli(1_700_000_000_000)
	h.in.msgs = []mailx.Message{reply("<1@x>", "a", base)}
	ctx := context.Background()

	h.engine(Config{}).RunCycle(ctx)
	h.engine(Config{}).RunCycle(ctx)

	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, h.in.since[1].Equal(base), "a new engine resumes from the stored watermark")
}

func TestNext_Backoff(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{BaseInterval: time.Second, MaxInterval: 5 * time.Second})

	var got []time.Duration
	for i := 0; i < 4; i++ {
		e.interval = e.next(0)
		got = append(got, e.interval)
	}
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)

	e.interval = e.next(1)
	require.Equal(t, time.Second, e.interval)
}

func TestRun_WakesOnEnqueueAndStopsPromptly(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{BaseInterval: time.Hour, MaxInterval: time.Hour})
	ctx := context.Background()

	go func() { _ = e.Run(ctx) }()
	require.Eventually(t, func() bool { return e.State() == StateWaiting }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Enqueue(ctx, "wake up"))
	require.Eventually(t, func() bool { return len(h.out.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)

	e.Stop()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	require.Equal(t, StateStopped, e.State())
	require.True(t, h.out.closed)
	require.True(t, h.in.closed)
}

func addUnsent(t *testing.T, h *harness, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		note := models.NewOutgoing(testChat, fmt.Sprintf("note %d", i))
		_, err := h.notes.Add(ctx, &note)
		require.NoError(t, err)
	}
	require.NoError(t, h.store.Commit(ctx))
}

func TestRunCycle_StopFinishesOnlyTheSendInProgress(t *testing.T) {
	h := newHarness(t)
	addUnsent(t, h, 5)
	h.in.msgs = []mailx.Message{reply("<1@x>", "late", time.UnixMilli(1_700_000_000_000))}
	e := h.engine(Config{})
	h.out.onSend = e.Stop
	ctx := context.Background()

	require.Equal(t, 1, e.RunCycle(ctx))
	assert.Len(t, h.out.messages(), 1)
	assert.Empty(t, h.in.since, "no poll once stopped")

	unsent, err := h.notes.Unsent(ctx)
	require.NoError(t, err)
	assert.Len(t, unsent, 4, "the rest waits for the next start")
}

func TestRun_StopDuringSlowSendReturnsPromptly(t *testing.T) {
	h := newHarness(t)
	addUnsent(t, h, 5)
	started := make(chan struct{}, 5)
	h.out.onSend = func() {
		started <- struct{}{}
		time.Sleep(100 * time.Millisecond)
	}
	e := h.engine(Config{BaseInterval: time.Hour, MaxInterval: time.Hour})

	go func() { _ = e.Run(context.Background()) }()
	<-started
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(300 * time.Millisecond):
		t.Fatal("Run kept sending after Stop")
	}
	assert.Len(t, h.out.messages(), 1)
	assert.Empty(t, h.in.since)
}

func TestRunCycle_PersistFailureHoldsQueuedTexts(t *testing.T) {
	h := newHarness(t)
	e := New(Config{}, Deps{
		Chat:     testChat,
		Notes:    &flakyNotes{NoteStore: h.notes, failAdds: 1},
		Commit:   h.store.Commit,
		Crypto:   h.crypto,
		Outbound: h.out,
		Inbound:  h.in,
	})
	ctx := context.Background()
	require.NoError(t, e.Enqueue(ctx, "first"))
	require.NoError(t, e.Enqueue(ctx, "second"))

	assert.Zero(t, e.RunCycle(ctx))
	assert.Empty(t, h.out.messages())

	assert.Equal(t, 2, e.RunCycle(ctx))
	all, err := h.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Text)
	assert.Equal(t, "second", all[1].Text)
}

func TestRunCycle_HeldTextsKeepBackpressure(t *testing.T) {
	h := newHarness(t)
	e := New(Config{QueueCapacity: 2}, Deps{
		Chat:     testChat,
		Notes:    &flakyNotes{NoteStore: h.notes, failAdds: 100},
		Commit:   h.store.Commit,
		Crypto:   h.crypto,
		Outbound: h.out,
		Inbound:  h.in,
	})
	ctx := context.Background()
	require.NoError(t, e.Enqueue(ctx, "a"))
	require.NoError(t, e.Enqueue(ctx, "b"))
	e.RunCycle(ctx)

	require.NoError(t, e.Enqueue(ctx, "c"))
	require.NoError(t, e.Enqueue(ctx, "d"))
	e.RunCycle(ctx)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Enqueue(short, "e"), context.DeadlineExceeded)
}

func TestRun_ContextCancel(t *testing.T) {
	h := newHarness(t)
	e := h.engine(Config{BaseInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	require.Eventually(t, func() bool { return e.State() == StateWaiting }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "polling", StatePolling.String())
	require.Equal(t, "waiting", StateWaiting.String())
	require.Equal(t, "stopped", StateStopped.String())
}
