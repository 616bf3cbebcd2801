package aws

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/berkguzel/iamguard/pkg/policy"
	"github.com/berkguzel/iamguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIAMClient mocks the IAM client for testing
type MockIAMClient struct {
	mock.Mock
}

func (m *MockIAMClient) ListUsers(ctx context.Context, input *iam.ListUsersInput, opts ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListUsersOutput), args.Error(1)
}

func (m *MockIAMClient) ListRoles(ctx context.Context, input *iam.ListRolesInput, opts ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListRolesOutput), args.Error(1)
}

func (m *MockIAMClient) ListAttachedUserPolicies(ctx context.Context, input *iam.ListAttachedUserPoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListAttachedUserPoliciesOutput), args.Error(1)
}

func (m *MockIAMClient) ListAttachedRolePolicies(ctx context.Context, input *iam.ListAttachedRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListAttachedRolePoliciesOutput), args.Error(1)
}

func (m *MockIAMClient) ListUserPolicies(ctx context.Context, input *iam.ListUserPoliciesInput, opts ...func(*iam.Options)) (*iam.ListUserPoliciesOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListUserPoliciesOutput), args.Error(1)
}

func (m *MockIAMClient) ListRolePolicies(ctx context.Context, input *iam.ListRolePoliciesInput, opts ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListRolePoliciesOutput), args.Error(1)
}

func (m *MockIAMClient) ListPolicies(ctx context.Context, input *iam.ListPoliciesInput, opts ...func(*iam.Options)) (*iam.ListPoliciesOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.ListPoliciesOutput), args.Error(1)
}

func (m *MockIAMClient) GetPolicy(ctx context.Context, input *iam.GetPolicyInput, opts ...func(*iam.Options)) (*iam.GetPolicyOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.GetPolicyOutput), args.Error(1)
}

func (m *MockIAMClient) GetPolicyVersion(ctx context.Context, input *iam.GetPolicyVersionInput, opts ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(*iam.GetPolicyVersionOutput), args.Error(1)
}

const testPolicyArn = "arn:aws:iam::123456789012:policy/test-policy"

func newTestClient(iamClient *MockIAMClient) *Client {
	return NewFromAPIs(iamClient, &MockSTSClient{}, &MockS3Client{})
}

func TestListIdentities(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("ListUsers", mock.Anything, mock.MatchedBy(func(in *iam.ListUsersInput) bool {
		return in.Marker == nil
	})).Return(&iam.ListUsersOutput{
		Users:       []iamtypes.User{{UserName: aws.String("alice")}},
		IsTruncated: true,
		Marker:      aws.String("page-2"),
	}, nil)
	mockClient.On("ListUsers", mock.Anything, mock.MatchedBy(func(in *iam.ListUsersInput) bool {
		return aws.ToString(in.Marker) == "page-2"
	})).Return(&iam.ListUsersOutput{
		Users: []iamtypes.User{{UserName: aws.String("bob")}},
	}, nil)

	identities, err := client.ListIdentities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Identity{
		{Name: "alice", Kind: types.IdentityUser},
		{Name: "bob", Kind: types.IdentityUser},
	}, identities)

	mockClient.AssertNotCalled(t, "ListRoles", mock.Anything, mock.Anything)
}

func TestListIdentities_WithRoles(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)
	client.includeRoles = true

	mockClient.On("ListUsers", mock.Anything, mock.Anything).Return(&iam.ListUsersOutput{
		Users: []iamtypes.User{{UserName: aws.String("alice")}},
	}, nil)
	mockClient.On("ListRoles", mock.Anything, mock.Anything).Return(&iam.ListRolesOutput{
		Roles: []iamtypes.Role{{RoleName: aws.String("deployer")}},
	}, nil)

	identities, err := client.ListIdentities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Identity{
		{Name: "alice", Kind: types.IdentityUser},
		{Name: "deployer", Kind: types.IdentityRole},
	}, identities)
}

func TestListIdentities_Error(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("ListUsers", mock.Anything, mock.Anything).Return((*iam.ListUsersOutput)(nil), assert.AnError)

	_, err := client.ListIdentities(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to list users")
}

func TestListAttachedPolicies(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("ListAttachedUserPolicies", mock.Anything, mock.MatchedBy(func(in *iam.ListAttachedUserPoliciesInput) bool {
		return aws.ToString(in.UserName) == "alice"
	})).Return(&iam.ListAttachedUserPoliciesOutput{
		AttachedPolicies: []iamtypes.AttachedPolicy{
			{PolicyName: aws.String("test-policy"), PolicyArn: aws.String(testPolicyArn)},
		},
	}, nil)
	mockClient.On("ListAttachedRolePolicies", mock.Anything, mock.MatchedBy(func(in *iam.ListAttachedRolePoliciesInput) bool {
		return aws.ToString(in.RoleName) == "deployer"
	})).Return(&iam.ListAttachedRolePoliciesOutput{}, nil)

	refs, err := client.ListAttachedPolicies(context.Background(), types.Identity{Name: "alice", Kind: types.IdentityUser})
	require.NoError(t, err)
	assert.Equal(t, []types.PolicyRef{{Arn: testPolicyArn, Name: "test-policy"}}, refs)

	refs, err = client.ListAttachedPolicies(context.Background(), types.Identity{Name: "deployer", Kind: types.IdentityRole})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestListInlinePolicyNames(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("ListUserPolicies", mock.Anything, mock.Anything).Return(&iam.ListUserPoliciesOutput{
		PolicyNames: []string{"inline-a", "inline-b"},
	}, nil)
	mockClient.On("ListRolePolicies", mock.Anything, mock.Anything).Return((*iam.ListRolePoliciesOutput)(nil), assert.AnError)

	names, err := client.ListInlinePolicyNames(context.Background(), types.Identity{Name: "alice", Kind: types.IdentityUser})
	require.NoError(t, err)
	assert.Equal(t, []string{"inline-a", "inline-b"}, names)

	_, err = client.ListInlinePolicyNames(context.Background(), types.Identity{Name: "deployer", Kind: types.IdentityRole})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGetDefaultVersionID(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("GetPolicy", mock.Anything, &iam.GetPolicyInput{
		PolicyArn: aws.String(testPolicyArn),
	}).Return(&iam.GetPolicyOutput{
		Policy: &iamtypes.Policy{DefaultVersionId: aws.String("v3")},
	}, nil)
	mockClient.On("GetPolicy", mock.Anything, &iam.GetPolicyInput{
		PolicyArn: aws.String("arn:aws:iam::123456789012:policy/empty"),
	}).Return(&iam.GetPolicyOutput{}, nil)

	v, err := client.GetDefaultVersionID(context.Background(), testPolicyArn)
	require.NoError(t, err)
	assert.Equal(t, "v3", v)

	_, err = client.GetDefaultVersionID(context.Background(), "arn:aws:iam::123456789012:policy/empty")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no default version")
}

func TestGetPolicyDocument(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":["s3:GetObject"],"Resource":["*"]}]}`
	mockClient.On("GetPolicyVersion", mock.Anything, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(testPolicyArn),
		VersionId: aws.String("v1"),
	}).Return(&iam.GetPolicyVersionOutput{
		PolicyVersion: &iamtypes.PolicyVersion{Document: aws.String(url.QueryEscape(raw))},
	}, nil).Once()

	doc, err := client.GetPolicyDocument(context.Background(), testPolicyArn, "v1")
	require.NoError(t, err)
	assert.Equal(t, "2012-10-17", doc.Version)

	// second fetch is served from the cache
	_, err = client.GetPolicyDocument(context.Background(), testPolicyArn, "v1")
	require.NoError(t, err)

	mockClient.AssertNumberOfCalls(t, "GetPolicyVersion", 1)
	assert.Equal(t, int64(1), client.cache.GetMetrics()["hits"])
}

func TestGetPolicyDocument_Failures(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("GetPolicyVersion", mock.Anything, mock.MatchedBy(func(in *iam.GetPolicyVersionInput) bool {
		return aws.ToString(in.VersionId) == "missing"
	})).Return(&iam.GetPolicyVersionOutput{}, nil)
	mockClient.On("GetPolicyVersion", mock.Anything, mock.MatchedBy(func(in *iam.GetPolicyVersionInput) bool {
		return aws.ToString(in.VersionId) == "garbled"
	})).Return(&iam.GetPolicyVersionOutput{
		PolicyVersion: &iamtypes.PolicyVersion{Document: aws.String("not-json")},
	}, nil)
	mockClient.On("GetPolicyVersion", mock.Anything, mock.MatchedBy(func(in *iam.GetPolicyVersionInput) bool {
		return aws.ToString(in.VersionId) == "denied"
	})).Return((*iam.GetPolicyVersionOutput)(nil), errors.New("AccessDenied"))

	_, err := client.GetPolicyDocument(context.Background(), testPolicyArn, "missing")
	assert.Contains(t, err.Error(), "has no document")

	_, err = client.GetPolicyDocument(context.Background(), testPolicyArn, "garbled")
	assert.ErrorIs(t, err, policy.ErrMalformed)

	_, err = client.GetPolicyDocument(context.Background(), testPolicyArn, "denied")
	assert.Contains(t, err.Error(), "AccessDenied")

	assert.Equal(t, 0, client.cache.Len())
}

func TestWalkCustomerManagedPolicies(t *testing.T) {
	mockClient := &MockIAMClient{}
	client := newTestClient(mockClient)

	mockClient.On("ListPolicies", mock.Anything, mock.MatchedBy(func(in *iam.ListPoliciesInput) bool {
		return in.Scope == iamtypes.PolicyScopeTypeLocal && in.Marker == nil
	})).Return(&iam.ListPoliciesOutput{
		Policies: []iamtypes.Policy{
			{Arn: aws.String("arn:1"), PolicyName: aws.String("one"), DefaultVersionId: aws.String("v1")},
			{Arn: aws.String("arn:2"), PolicyName: aws.String("two"), DefaultVersionId: aws.String("v4")},
		},
		IsTruncated: true,
		Marker:      aws.String("next"),
	}, nil)
	mockClient.On("ListPolicies", mock.Anything, mock.MatchedBy(func(in *iam.ListPoliciesInput) bool {
		return aws.ToString(in.Marker) == "next"
	})).Return(&iam.ListPoliciesOutput{
		Policies: []iamtypes.Policy{
			{Arn: aws.String("arn:3"), PolicyName: aws.String("three"), DefaultVersionId: aws.String("v2")},
		},
	}, nil)

	var refs []types.PolicyRef
	err := client.WalkCustomerManagedPolicies(context.Background(), func(ref types.PolicyRef) error {
		refs = append(refs, ref)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []types.PolicyRef{
		{Arn: "arn:1", Name: "one", DefaultVersionID: "v1"},
		{Arn: "arn:2", Name: "two", DefaultVersionID: "v4"},
		{Arn: "arn:3", Name: "three", DefaultVersionID: "v2"},
	}, refs)

	stop := errors.New("stop")
	err = client.WalkCustomerManagedPolicies(context.Background(), func(ref types.PolicyRef) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}
