package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Discard()
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ListIdentities(ctx context.Context) ([]types.Identity, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Identity), args.Error(1)
}

func (m *MockDirectory) ListAttachedPolicies(ctx context.Context, identity types.Identity) ([]types.PolicyRef, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).([]types.PolicyRef), args.Error(1)
}

func (m *MockDirectory) ListInlinePolicyNames(ctx context.Context, identity types.Identity) ([]string, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).([]string), args.Error(1)
}

type MockPolicyStore struct {
	mock.Mock
	listing []types.PolicyRef
	listErr error
}

func (m *MockPolicyStore) GetDefaultVersionID(ctx context.Context, arn string) (string, error) {
	args := m.Called(ctx, arn)
	return args.String(0), args.Error(1)
}

func (m *MockPolicyStore) GetPolicyDocument(ctx context.Context, arn, versionID string) (types.PolicyDocument, error) {
	args := m.Called(ctx, arn, versionID)
	return args.Get(0).(types.PolicyDocument), args.Error(1)
}

func (m *MockPolicyStore) WalkCustomerManagedPolicies(ctx context.Context, fn func(types.PolicyRef) error) error {
	for _, ref := range m.listing {
		if err := fn(ref); err != nil {
			return err
		}
	}
	return m.listErr
}

func doc(t *testing.T, s string) types.PolicyDocument {
	t.Helper()
	var d types.PolicyDocument
	require.NoError(t, json.Unmarshal([]byte(s), &d))
	return d
}

const (
	adminDoc  = `{"Statement":[{"Effect":"Allow","Action":"*","Resource":"*"}]}`
	scopedDoc = `{"Statement":{"Effect":"Allow","Action":"s3:GetObject","Resource":"arn:aws:s3:::bucket/*"}}`
	mixedDoc  = `{"Statement":[{"Effect":"Allow","Action":"s3:*","Resource":"arn:aws:s3:::b"},{"Effect":"Deny","Action":"*","Resource":"*"},{"Effect":"Allow","Action":"ec2:StartInstances","Resource":"*"}]}`
)

func TestScanAccount(t *testing.T) {
	for _, workers := range []int{1, 4} {
		store := &MockPolicyStore{listing: []types.PolicyRef{
			{Arn: "arn:1", Name: "admin", DefaultVersionID: "v1"},
			{Arn: "arn:2", Name: "broken", DefaultVersionID: "v1"},
			{Arn: "arn:3", Name: "mixed", DefaultVersionID: "v2"},
			{Arn: "arn:4", Name: "scoped", DefaultVersionID: "v1"},
		}}
		store.On("GetPolicyDocument", mock.Anything, "arn:1", "v1").Return(doc(t, adminDoc), nil)
		store.On("GetPolicyDocument", mock.Anything, "arn:2", "v1").Return(types.PolicyDocument{}, errors.New("throttled"))
		store.On("GetPolicyDocument", mock.Anything, "arn:3", "v2").Return(doc(t, mixedDoc), nil)
		store.On("GetPolicyDocument", mock.Anything, "arn:4", "v1").Return(doc(t, scopedDoc), nil)

		s := New(&MockDirectory{}, store, Options{Workers: workers})
		res, err := s.ScanAccount(context.Background())
		require.NoError(t, err)

		assert.Equal(t, types.ModeAccount, res.Mode)
		assert.Equal(t, 3, res.Scanned, "failed policy is not counted")
		require.Len(t, res.Entries, 4)

		assert.Equal(t, "admin", res.Entries[0].Finding.PolicyName)

		require.True(t, res.Entries[1].IsError())
		assert.Equal(t, "arn:2", res.Entries[1].Error.PolicyArn)
		assert.Equal(t, "throttled", res.Entries[1].Error.Error)
		assert.Equal(t, types.ErrorNote, res.Entries[1].Error.Note)

		assert.Equal(t, "mixed", res.Entries[2].Finding.PolicyName)
		assert.Equal(t, 1, res.Entries[2].Finding.StatementIndex)
		assert.Equal(t, 3, res.Entries[3].Finding.StatementIndex)

		store.AssertExpectations(t)
	}
}

func TestScanAccount_ResolvesMissingVersion(t *testing.T) {
	store := &MockPolicyStore{listing: []types.PolicyRef{
		{Arn: "arn:1", Name: "admin"},
		{Arn: "arn:2", Name: "gone"},
	}}
	store.On("GetDefaultVersionID", mock.Anything, "arn:1").Return("v7", nil)
	store.On("GetDefaultVersionID", mock.Anything, "arn:2").Return("", errors.New("NoSuchEntity"))
	store.On("GetPolicyDocument", mock.Anything, "arn:1", "v7").Return(doc(t, adminDoc), nil)

	res, err := New(&MockDirectory{}, store, Options{}).ScanAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	require.Len(t, res.Entries, 2)
	assert.False(t, res.Entries[0].IsError())
	assert.True(t, res.Entries[1].IsError())
}

func TestScanAccount_MalformedDocument(t *testing.T) {
	store := &MockPolicyStore{listing: []types.PolicyRef{{Arn: "arn:1", Name: "odd", DefaultVersionID: "v1"}}}
	store.On("GetPolicyDocument", mock.Anything, "arn:1", "v1").Return(doc(t, `{"Statement":"nope"}`), nil)

	res, err := New(&MockDirectory{}, store, Options{}).ScanAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	require.Len(t, res.Entries, 1)
	assert.Contains(t, res.Entries[0].Error.Error, "malformed")
}

func TestScanAccount_ListingFailure(t *testing.T) {
	store := &MockPolicyStore{listErr: errors.New("AccessDenied")}
	_, err := New(&MockDirectory{}, store, Options{}).ScanAccount(context.Background())
	assert.Error(t, err)
}

func TestScanAccount_Empty(t *testing.T) {
	res, err := New(&MockDirectory{}, &MockPolicyStore{}, Options{}).ScanAccount(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
}

func TestScanIdentities(t *testing.T) {
	alice := types.Identity{Name: "alice", Kind: types.IdentityUser}
	bob := types.Identity{Name: "bob", Kind: types.IdentityUser}

	dir := &MockDirectory{}
	dir.On("ListIdentities", mock.Anything).Return([]types.Identity{alice, bob}, nil)
	dir.On("ListAttachedPolicies", mock.Anything, alice).Return([]types.PolicyRef{
		{Arn: "arn:admin", Name: "AdministratorAccess"},
	}, nil)
	dir.On("ListInlinePolicyNames", mock.Anything, alice).Return([]string{"alice-inline"}, nil)
	dir.On("ListAttachedPolicies", mock.Anything, bob).Return([]types.PolicyRef{
		{Arn: "arn:scoped", Name: "Scoped"},
	}, nil)
	dir.On("ListInlinePolicyNames", mock.Anything, bob).Return([]string{}, nil)

	store := &MockPolicyStore{}
	store.On("GetDefaultVersionID", mock.Anything, "arn:admin").Return("v1", nil)
	store.On("GetDefaultVersionID", mock.Anything, "arn:scoped").Return("v1", nil)
	store.On("GetPolicyDocument", mock.Anything, "arn:admin", "v1").Return(doc(t, adminDoc), nil)
	store.On("GetPolicyDocument", mock.Anything, "arn:scoped", "v1").Return(doc(t, scopedDoc), nil)

	res, err := New(dir, store, Options{Workers: 2}).ScanIdentities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeIdentity, res.Mode)
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Entries, 2)

	content := res.Entries[0].Finding
	assert.Equal(t, "alice", content.Identity)
	assert.Equal(t, "AdministratorAccess", content.PolicyName)
	assert.False(t, content.Inline)

	sentinel := res.Entries[1].Finding
	assert.Equal(t, "alice", sentinel.Identity)
	assert.Equal(t, types.InlinePolicyName, sentinel.PolicyName)
	assert.True(t, sentinel.Inline)
	assert.Equal(t, []string{"alice-inline"}, sentinel.InlinePolicyNames)

	dir.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestScanIdentities_Failures(t *testing.T) {
	carol := types.Identity{Name: "carol", Kind: types.IdentityRole}

	dir := &MockDirectory{}
	dir.On("ListIdentities", mock.Anything).Return([]types.Identity{carol}, nil)
	dir.On("ListAttachedPolicies", mock.Anything, carol).Return([]types.PolicyRef(nil), errors.New("throttled"))
	dir.On("ListInlinePolicyNames", mock.Anything, carol).Return([]string(nil), errors.New("throttled"))

	res, err := New(dir, &MockPolicyStore{}, Options{}).ScanIdentities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	require.Len(t, res.Entries, 2)
	assert.True(t, res.Entries[0].IsError())
	assert.True(t, res.Entries[1].IsError())
	assert.Equal(t, "carol", res.Entries[1].Error.Identity)
	assert.Equal(t, types.InlinePolicyName, res.Entries[1].Error.PolicyName)
}

func TestScanIdentities_ListFailure(t *testing.T) {
	dir := &MockDirectory{}
	dir.On("ListIdentities", mock.Anything).Return([]types.Identity(nil), errors.New("AccessDenied"))

	_, err := New(dir, &MockPolicyStore{}, Options{}).ScanIdentities(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list identities")
}

func TestScan_UnknownMode(t *testing.T) {
	_, err := New(&MockDirectory{}, &MockPolicyStore{}, Options{}).Scan(context.Background(), "graph")
	assert.Error(t, err)
}
