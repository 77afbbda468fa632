package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/otwarte/ops-oauth2/internal/idp"
)

// MockProvider is an idp.Provider whose Exchange is driven by testify
// expectations. Type and AuthURL return the fixed fields.
type MockProvider struct {
	mock.Mock
	Name string
	URL  string
}

func (m *MockProvider) Type() string {
	return m.Name
}

func (m *MockProvider) AuthURL() string {
	return m.URL
}

func (m *MockProvider) Exchange(ctx context.Context, cred idp.Credential) (*idp.Identity, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.Identity), args.Error(1)
}

// MockMagicLinkIssuer mocks the email provider's Generate.
type MockMagicLinkIssuer struct {
	mock.Mock
}

func (m *MockMagicLinkIssuer) Generate(ctx context.Context, address, userAgent string) error {
	args := m.Called(ctx, address, userAgent)
	return args.Error(0)
}

// MockSender mocks mailer.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	args := m.Called(ctx, to, subject, htmlBody, textBody)
	return args.Error(0)
}
