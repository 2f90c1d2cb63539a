package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/database/dbtest"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 10, 8, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []Message
}

func (r *recordingNotifier) Notify(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Kind)
	}
	return out
}

type recordingArchiver struct {
	mu       sync.Mutex
	attempts []uint
}

func (r *recordingArchiver) ScheduleArchive(ctx context.Context, attempt *models.WebhookAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt.ID)
	return nil
}

type fixture struct {
	repos    *repository.Repositories
	engine   *Engine
	audit    *AuditLog
	notifier *recordingNotifier
	archiver *recordingArchiver
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repos:    repository.NewRepositories(dbtest.New(t)),
		notifier: &recordingNotifier{},
		archiver: &recordingArchiver{},
		clock:    t0,
	}
	f.audit = NewAuditLog(f.repos.WebhookAttempt, f.archiver)
	f.audit.now = f.now
	f.engine = NewEngine(f.repos, DefaultCatalog(), f.audit, f.notifier).WithClock(f.now)
	return f
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) intent(t *testing.T, ref string, userID uint, planID, provider string) *models.PaymentIntent {
	t.Helper()
	plan, err := DefaultCatalog().Get(planID)
	require.NoError(t, err)
	in := &models.PaymentIntent{
		Reference: ref,
		UserID:    userID,
		PlanID:    plan.ID,
		Provider:  provider,
		Amount:    plan.Amount,
		Currency:  plan.Currency,
		Status:    models.IntentStatusPending,
	}
	require.NoError(t, f.repos.Intent.Create(context.Background(), in))
	return in
}

func (f *fixture) user(t *testing.T, email, referredBy string, profile models.Profile) *models.User {
	t.Helper()
	u, err := models.CreateUser("user-"+email[:3], email, referredBy)
	require.NoError(t, err)
	if profile != nil {
		u.SetProfile(profile)
	}
	require.NoError(t, f.repos.User.Create(context.Background(), u))
	return u
}

func (f *fixture) subscription(t *testing.T, userID uint) *models.Subscription {
	t.Helper()
	sub, err := f.repos.Subscription.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	return sub
}
