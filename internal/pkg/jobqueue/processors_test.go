package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/archive"
	"github.com/ManuelReschke/SignalFox/internal/pkg/billing"
	"github.com/ManuelReschke/SignalFox/internal/pkg/database/dbtest"
)

type sentMail struct{ to, subject, body string }

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

type fakeStore struct {
	keys []string
}

func (f *fakeStore) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func notifyJob(userID uint, kind string, data map[string]string) *Job {
	return &Job{ID: "j1", Type: JobTypeNotifyUser, Payload: NotifyUserPayload{UserID: userID, Kind: kind, Data: data}.ToMap()}
}

func TestNotifyProcessorSendsMail(t *testing.T) {
	repos := repository.NewRepositories(dbtest.New(t))
	ctx := context.Background()
	user, err := models.CreateUser("Ada", "ada@example.com", "")
	require.NoError(t, err)
	require.NoError(t, repos.User.Create(ctx, user))

	sender := &fakeSender{}
	p := NewNotifyProcessor(repos.User, sender)

	require.NoError(t, p.Handle(ctx, notifyJob(user.ID, billing.MessageSubscriptionActivated, map[string]string{
		"plan_id": "monthly", "end_date": "2026-05-10T08:30:00Z",
	})))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].body, "Hi Ada")
	assert.Contains(t, sender.sent[0].body, "monthly")

	err = p.Handle(ctx, notifyJob(999, billing.MessageSubscriptionActivated, nil))
	assert.ErrorIs(t, err, ErrPermanent)

	err = p.Handle(ctx, notifyJob(user.ID, "no_such_kind", nil))
	assert.ErrorIs(t, err, ErrPermanent)

	sender.err = errors.New("smtp down")
	err = p.Handle(ctx, notifyJob(user.ID, billing.MessagePaymentDeclined, nil))
	assert.EqualError(t, err, "smtp down")
	assert.NotErrorIs(t, err, ErrPermanent)
}

func TestArchiveProcessor(t *testing.T) {
	repos := repository.NewRepositories(dbtest.New(t))
	ctx := context.Background()
	attempt := &models.WebhookAttempt{
		Provider:    "crypto",
		Event:       "PAY.PAY_SUCCESS",
		Reference:   "ref-x",
		Error:       models.WebhookErrorIntentNotFound,
		PayloadJSON: `{"bizType":"PAY"}`,
		CreatedAt:   time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	require.NoError(t, repos.WebhookAttempt.Create(ctx, attempt))

	store := &fakeStore{}
	p := NewArchiveProcessor(repos.WebhookAttempt, archive.NewArchiver(store, &archive.Config{Prefix: "webhooks"}))

	job := &Job{Type: JobTypeArchivePayload, Payload: ArchivePayload{AttemptID: attempt.ID, Provider: "crypto"}.ToMap()}
	require.NoError(t, p.Handle(ctx, job))
	assert.Equal(t, []string{fmt.Sprintf("webhooks/crypto/2026/02/%d.json", attempt.ID)}, store.keys)

	missing := &Job{Type: JobTypeArchivePayload, Payload: ArchivePayload{AttemptID: 404}.ToMap()}
	assert.ErrorIs(t, p.Handle(ctx, missing), ErrPermanent)
}

func TestDispatcherEnqueues(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()

	d := NewDispatcher(q, false)
	require.NoError(t, d.Notify(ctx, billing.Message{UserID: 1, Kind: billing.MessageSubscriptionReverted}))
	require.NoError(t, d.ScheduleArchive(ctx, &models.WebhookAttempt{ID: 5, Provider: "card"}))

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "archive jobs are skipped while archiving is off")

	require.NoError(t, NewDispatcher(q, true).ScheduleArchive(ctx, &models.WebhookAttempt{ID: 5, Provider: "card"}))
	size, err = q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	next, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobTypeNotifyUser, next.Type)
	p, err := NotifyUserPayloadFromMap(next.Payload)
	require.NoError(t, err)
	assert.Equal(t, billing.MessageSubscriptionReverted, p.Kind)
}
