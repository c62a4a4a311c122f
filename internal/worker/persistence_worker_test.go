package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"relay-chat/internal/domain/conversation"
	"relay-chat/internal/domain/message"
	"relay-chat/internal/queue"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

type mockResolver struct {
	conversationID uuid.UUID
	err            error
}

func (m *mockResolver) ResolveDirect(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, error) {
	return m.conversationID, m.err
}

func (m *mockResolver) ResolveGroup(context.Context, uuid.UUID) (uuid.UUID, error) {
	return m.conversationID, m.err
}

type mockMessageStore struct {
	messages map[uuid.UUID]message.Message
	inserts  int
	err      error
}

func newMockMessageStore() *mockMessageStore {
	return &mockMessageStore{messages: make(map[uuid.UUID]message.Message)}
}

func (m *mockMessageStore) CreateIfAbsent(_ context.Context, msg *message.Message) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.messages[msg.ID]; ok {
		return false, nil
	}
	m.messages[msg.ID] = *msg
	m.inserts++
	return true, nil
}

func (m *mockMessageStore) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return message.Message{}, relay_errors.ErrNotFound
	}
	return msg, nil
}

func (m *mockMessageStore) UpdateContent(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (m *mockMessageStore) SoftDelete(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (m *mockMessageStore) GetUndeliveredForUser(context.Context, uuid.UUID, int) ([]message.Message, error) {
	return nil, nil
}

type mockConversationStore struct {
	members    []uuid.UUID
	membersErr error
}

func (m *mockConversationStore) FindDirect(context.Context, uuid.UUID, uuid.UUID) (conversation.Conversation, error) {
	return conversation.Conversation{}, relay_errors.ErrNotFound
}

func (m *mockConversationStore) FindGroup(context.Context, uuid.UUID) (conversation.Conversation, error) {
	return conversation.Conversation{}, relay_errors.ErrNotFound
}

func (m *mockConversationStore) Create(context.Context, *conversation.Conversation) error {
	return nil
}

func (m *mockConversationStore) GetGroupMemberIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return m.members, m.membersErr
}

func (m *mockConversationStore) GetContactIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *mockConversationStore) IsParticipant(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
}

type mockDeliverySink struct {
	marked  []uuid.UUID
	failFor map[uuid.UUID]error
}

func (m *mockDeliverySink) MarkSent(_ context.Context, _ uuid.UUID, userID uuid.UUID) error {
	if err, ok := m.failFor[userID]; ok {
		return err
	}
	m.marked = append(m.marked, userID)
	return nil
}

type mockLivePusher struct {
	online map[uuid.UUID]bool
	pushed []uuid.UUID
}

func (m *mockLivePusher) Push(_ context.Context, userID uuid.UUID, _ string, _ interface{}) (bool, error) {
	m.pushed = append(m.pushed, userID)
	return m.online[userID], nil
}

type publishedJob struct {
	class   string
	payload []byte
}

type mockQueue struct {
	published  []publishedJob
	publishErr error
}

func (m *mockQueue) Publish(_ context.Context, jobClass string, payload []byte) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedJob{class: jobClass, payload: payload})
	return nil
}

func (m *mockQueue) Consume(context.Context, string, queue.Handler, queue.ConsumeOptions) error {
	return nil
}

func (m *mockQueue) DeadLetters(context.Context, string, int) ([]queue.DeadLetter, error) {
	return nil, nil
}

func (m *mockQueue) Close() error { return nil }

func (m *mockQueue) jobsFor(class string) []publishedJob {
	var out []publishedJob
	for _, j := range m.published {
		if j.class == class {
			out = append(out, j)
		}
	}
	return out
}

type workerFixture struct {
	worker   *PersistenceWorker
	resolver *mockResolver
	messages *mockMessageStore
	convs    *mockConversationStore
	delivery *mockDeliverySink
	pusher   *mockLivePusher
	queue    *mockQueue
}

func newWorkerFixture() *workerFixture {
	f := &workerFixture{
		resolver: &mockResolver{conversationID: uuid.New()},
		messages: newMockMessageStore(),
		convs:    &mockConversationStore{},
		delivery: &mockDeliverySink{},
		pusher:   &mockLivePusher{online: make(map[uuid.UUID]bool)},
		queue:    &mockQueue{},
	}
	f.worker = NewPersistenceWorker(
		f.resolver, f.messages, f.convs, f.delivery, f.pusher, f.queue, logger.New("development"),
	)
	return f
}

func directJob(sender, recipient uuid.UUID) queue.MessageJob {
	return queue.MessageJob{
		MessageID:   uuid.New(),
		SenderID:    sender,
		RecipientID: &recipient,
		Content:     "hello",
		Type:        message.TypeText,
		EnqueuedAt:  time.Now().UTC(),
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestHandleMalformedEnvelopeDeadLetters(t *testing.T) {
	f := newWorkerFixture()
	err := f.worker.Handle(context.Background(), []byte("{not json"))
	if !errors.Is(err, queue.ErrDeadLetter) {
		t.Fatalf("expected ErrDeadLetter, got %v", err)
	}
}

func TestHandleIncompleteJobDeadLetters(t *testing.T) {
	f := newWorkerFixture()
	sender, recipient, group := uuid.New(), uuid.New(), uuid.New()

	cases := []struct {
		name string
		job  queue.MessageJob
	}{
		{"missing message id", queue.MessageJob{SenderID: sender, RecipientID: &recipient, Content: "hi"}},
		{"missing sender", queue.MessageJob{MessageID: uuid.New(), RecipientID: &recipient, Content: "hi"}},
		{"empty content", queue.MessageJob{MessageID: uuid.New(), SenderID: sender, RecipientID: &recipient}},
		{"no target", queue.MessageJob{MessageID: uuid.New(), SenderID: sender, Content: "hi"}},
		{"both targets", queue.MessageJob{MessageID: uuid.New(), SenderID: sender, RecipientID: &recipient, GroupID: &group, Content: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.worker.Handle(context.Background(), mustMarshal(t, tc.job))
			if !errors.Is(err, queue.ErrDeadLetter) {
				t.Fatalf("expected ErrDeadLetter, got %v", err)
			}
		})
	}
}

func TestHandleResolveFailureIsRetryable(t *testing.T) {
	f := newWorkerFixture()
	f.resolver.err = errors.New("storage down")

	err := f.worker.Handle(context.Background(), mustMarshal(t, directJob(uuid.New(), uuid.New())))
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, queue.ErrDeadLetter) {
		t.Fatalf("resolve failures must stay retryable, got %v", err)
	}
	if len(f.messages.messages) != 0 {
		t.Fatal("no message should persist when resolution fails")
	}
}

func TestHandleOnlineRecipientGetsLivePush(t *testing.T) {
	f := newWorkerFixture()
	sender, recipient := uuid.New(), uuid.New()
	f.pusher.online[recipient] = true

	job := directJob(sender, recipient)
	if err := f.worker.Handle(context.Background(), mustMarshal(t, job)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	stored, ok := f.messages.messages[job.MessageID]
	if !ok {
		t.Fatal("expected the message to persist")
	}
	if stored.ConversationID != f.resolver.conversationID {
		t.Fatalf("expected resolved conversation id, got %s", stored.ConversationID)
	}
	if len(f.delivery.marked) != 1 || f.delivery.marked[0] != recipient {
		t.Fatalf("expected sent status for recipient, got %v", f.delivery.marked)
	}
	if len(f.pusher.pushed) != 1 || f.pusher.pushed[0] != recipient {
		t.Fatalf("expected one live push to recipient, got %v", f.pusher.pushed)
	}
	if jobs := f.queue.jobsFor(queue.ClassNotifications); len(jobs) != 0 {
		t.Fatalf("online recipient should not be notified, got %d jobs", len(jobs))
	}
}

func TestHandleOfflineRecipientEnqueuesNotificationAndEmail(t *testing.T) {
	f := newWorkerFixture()
	sender, recipient := uuid.New(), uuid.New()

	job := directJob(sender, recipient)
	if err := f.worker.Handle(context.Background(), mustMarshal(t, job)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	notifications := f.queue.jobsFor(queue.ClassNotifications)
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification job, got %d", len(notifications))
	}
	var n queue.NotificationJob
	if err := json.Unmarshal(notifications[0].payload, &n); err != nil {
		t.Fatalf("unmarshal notification job: %v", err)
	}
	if n.UserID != recipient {
		t.Fatalf("expected notification for recipient, got %s", n.UserID)
	}
	if n.Data["message_id"] != job.MessageID.String() {
		t.Fatalf("expected message id in data, got %v", n.Data)
	}

	if emails := f.queue.jobsFor(queue.ClassEmail); len(emails) != 1 {
		t.Fatalf("expected 1 email job, got %d", len(emails))
	}
}

func TestNotificationPreviewTruncatesOnRuneBoundary(t *testing.T) {
	f := newWorkerFixture()
	sender, recipient := uuid.New(), uuid.New()

	// 119 ASCII bytes followed by 3-byte runes puts the cut mid-rune.
	job := directJob(sender, recipient)
	job.Content = strings.Repeat("a", notificationPreviewLen-1) + strings.Repeat("語", 8)
	if err := f.worker.Handle(context.Background(), mustMarshal(t, job)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	notifications := f.queue.jobsFor(queue.ClassNotifications)
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification job, got %d", len(notifications))
	}
	var n queue.NotificationJob
	if err := json.Unmarshal(notifications[0].payload, &n); err != nil {
		t.Fatalf("unmarshal notification job: %v", err)
	}
	if len(n.Message) > notificationPreviewLen {
		t.Fatalf("preview is %d bytes, want at most %d", len(n.Message), notificationPreviewLen)
	}
	if !utf8.ValidString(n.Message) {
		t.Fatalf("preview is not valid UTF-8: %q", n.Message)
	}
}

func TestHandleRedeliveryDoesNotDuplicate(t *testing.T) {
	f := newWorkerFixture()
	sender, recipient := uuid.New(), uuid.New()
	f.pusher.online[recipient] = true

	payload := mustMarshal(t, directJob(sender, recipient))
	if err := f.worker.Handle(context.Background(), payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.worker.Handle(context.Background(), payload); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if f.messages.inserts != 1 {
		t.Fatalf("expected exactly 1 insert across redeliveries, got %d", f.messages.inserts)
	}
}

func TestHandleGroupFanoutSkipsSender(t *testing.T) {
	f := newWorkerFixture()
	sender, groupID := uuid.New(), uuid.New()
	a, b := uuid.New(), uuid.New()
	f.convs.members = []uuid.UUID{sender, a, b}
	f.pusher.online[a] = true
	f.pusher.online[b] = true

	job := queue.MessageJob{
		MessageID: uuid.New(),
		SenderID:  sender,
		GroupID:   &groupID,
		Content:   "hello group",
	}
	if err := f.worker.Handle(context.Background(), mustMarshal(t, job)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(f.pusher.pushed) != 2 {
		t.Fatalf("expected pushes to 2 members, got %d", len(f.pusher.pushed))
	}
	for _, pushed := range f.pusher.pushed {
		if pushed == sender {
			t.Fatal("sender must not receive their own fanout")
		}
	}
}

func TestHandleAcksWhenRecipientLookupFails(t *testing.T) {
	f := newWorkerFixture()
	groupID := uuid.New()
	f.convs.membersErr = errors.New("storage down")

	job := queue.MessageJob{
		MessageID: uuid.New(),
		SenderID:  uuid.New(),
		GroupID:   &groupID,
		Content:   "hello group",
	}
	// The message row is durable at this point; the job must ack rather
	// than reprocess forever.
	if err := f.worker.Handle(context.Background(), mustMarshal(t, job)); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if _, ok := f.messages.messages[job.MessageID]; !ok {
		t.Fatal("expected the message to persist")
	}
}

func TestHandlePartialFanoutFailureStillAcks(t *testing.T) {
	f := newWorkerFixture()
	sender, groupID := uuid.New(), uuid.New()
	a, b := uuid.New(), uuid.New()
	f.convs.members = []uuid.UUID{sender, a, b}
	f.delivery.failFor = map[uuid.UUID]error{a: errors.New("storage hiccup")}
	f.pusher.online[b] = true

	job := queue.MessageJob{
		MessageID: uuid.New(),
		SenderID:  sender,
		GroupID:   &groupID,
		Content:   "hello group",
	}
	if err := f.worker.Handle(context.Background(), mustMarshal(t, job)); err != nil {
		t.Fatalf("expected ack despite one failing recipient, got %v", err)
	}
	if len(f.delivery.marked) != 1 || f.delivery.marked[0] != b {
		t.Fatalf("expected the healthy recipient marked, got %v", f.delivery.marked)
	}
	// Both recipients still got a live delivery attempt.
	if len(f.pusher.pushed) != 2 {
		t.Fatalf("expected 2 push attempts, got %d", len(f.pusher.pushed))
	}
}
