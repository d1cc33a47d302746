package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopstream/commerce-core/internal/domain"
)

// Intent is the provider-side handle for one payment attempt.
type Intent struct {
	ID     string
	Status domain.PaymentStatus
}

// Provider abstracts the external payment processor. GetStatus is the
// reconciliation source of truth; VerifySignature authenticates webhook
// deliveries before any state is touched.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, orderID uuid.UUID) (Intent, error)
	GetStatus(ctx context.Context, intentID string) (domain.PaymentStatus, error)
	VerifySignature(payload []byte, signature string) bool
}

// ProviderRegistry resolves a provider by name for webhook and
// reconciliation paths where the provider arrives as a string.
type ProviderRegistry map[string]Provider

func (r ProviderRegistry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, domain.Ef(domain.KindInvalidInput, "unknown payment provider %q", name)
	}
	return p, nil
}

// MockProvider is an in-process processor for development and tests. Intents
// start PENDING and move only when a test (or the simulated webhook sender)
// calls SetStatus. Signatures are HMAC-SHA256 over the raw payload.
type MockProvider struct {
	name   string
	secret []byte

	mu      sync.Mutex
	intents map[string]domain.PaymentStatus
}

func NewMockProvider(name, secret string) *MockProvider {
	return &MockProvider{
		name:    name,
		secret:  []byte(secret),
		intents: make(map[string]domain.PaymentStatus),
	}
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) CreateIntent(_ context.Context, _ decimal.Decimal, _ string, _ uuid.UUID) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("pi_%s", uuid.NewString())
	m.intents[id] = domain.PaymentPending
	return Intent{ID: id, Status: domain.PaymentPending}, nil
}

func (m *MockProvider) GetStatus(_ context.Context, intentID string) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.intents[intentID]
	if !ok {
		return "", domain.Ef(domain.KindNotFound, "intent %s not found", intentID)
	}
	return status, nil
}

// SetStatus moves an intent on the provider side, simulating activity that
// reconciliation later discovers.
func (m *MockProvider) SetStatus(intentID string, status domain.PaymentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intentID] = status
}

func (m *MockProvider) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign produces the signature VerifySignature accepts; test helper.
func (m *MockProvider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
