package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/berkguzel/iamguard/pkg/policy"
	"github.com/berkguzel/iamguard/pkg/types"
)

// ListIdentities returns every IAM user, followed by every IAM role when
// the client was built with IncludeRoles.
func (c *Client) ListIdentities(ctx context.Context) ([]types.Identity, error) {
	var identities []types.Identity

	users := iam.NewListUsersPaginator(c.iamClient, &iam.ListUsersInput{})
	for users.HasMorePages() {
		done := c.track("ListUsers")
		page, err := users.NextPage(ctx)
		done()
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		for _, u := range page.Users {
			identities = append(identities, types.Identity{Name: aws.ToString(u.UserName), Kind: types.IdentityUser})
		}
	}

	if !c.includeRoles {
		return identities, nil
	}

	roles := iam.NewListRolesPaginator(c.iamClient, &iam.ListRolesInput{})
	for roles.HasMorePages() {
		done := c.track("ListRoles")
		page, err := roles.NextPage(ctx)
		done()
		if err != nil {
			return nil, fmt.Errorf("failed to list roles: %w", err)
		}
		for _, r := range page.Roles {
			identities = append(identities, types.Identity{Name: aws.ToString(r.RoleName), Kind: types.IdentityRole})
		}
	}

	return identities, nil
}

// ListAttachedPolicies returns the managed policies attached to identity.
func (c *Client) ListAttachedPolicies(ctx context.Context, identity types.Identity) ([]types.PolicyRef, error) {
	var attached []iamtypes.AttachedPolicy

	switch identity.Kind {
	case types.IdentityRole:
		p := iam.NewListAttachedRolePoliciesPaginator(c.iamClient, &iam.ListAttachedRolePoliciesInput{
			RoleName: aws.String(identity.Name),
		})
		for p.HasMorePages() {
			done := c.track("ListAttachedRolePolicies")
			page, err := p.NextPage(ctx)
			done()
			if err != nil {
				return nil, fmt.Errorf("failed to list attached role policies: %w", err)
			}
			attached = append(attached, page.AttachedPolicies...)
		}
	default:
		p := iam.NewListAttachedUserPoliciesPaginator(c.iamClient, &iam.ListAttachedUserPoliciesInput{
			UserName: aws.String(identity.Name),
		})
		for p.HasMorePages() {
			done := c.track("ListAttachedUserPolicies")
			page, err := p.NextPage(ctx)
			done()
			if err != nil {
				return nil, fmt.Errorf("failed to list attached user policies: %w", err)
			}
			attached = append(attached, page.AttachedPolicies...)
		}
	}

	refs := make([]types.PolicyRef, 0, len(attached))
	for _, a := range attached {
		refs = append(refs, types.PolicyRef{
			Arn:  aws.ToString(a.PolicyArn),
			Name: aws.ToString(a.PolicyName),
		})
	}
	return refs, nil
}

// ListInlinePolicyNames returns the names of the inline policies embedded in identity.
func (c *Client) ListInlinePolicyNames(ctx context.Context, identity types.Identity) ([]string, error) {
	var names []string

	switch identity.Kind {
	case types.IdentityRole:
		p := iam.NewListRolePoliciesPaginator(c.iamClient, &iam.ListRolePoliciesInput{
			RoleName: aws.String(identity.Name),
		})
		for p.HasMorePages() {
			done := c.track("ListRolePolicies")
			page, err := p.NextPage(ctx)
			done()
			if err != nil {
				return nil, fmt.Errorf("failed to list role inline policies: %w", err)
			}
			names = append(names, page.PolicyNames...)
		}
	default:
		p := iam.NewListUserPoliciesPaginator(c.iamClient, &iam.ListUserPoliciesInput{
			UserName: aws.String(identity.Name),
		})
		for p.HasMorePages() {
			done := c.track("ListUserPolicies")
			page, err := p.NextPage(ctx)
			done()
			if err != nil {
				return nil, fmt.Errorf("failed to list user inline policies: %w", err)
			}
			names = append(names, page.PolicyNames...)
		}
	}

	return names, nil
}

// GetDefaultVersionID returns the default version of the policy at arn.
func (c *Client) GetDefaultVersionID(ctx context.Context, arn string) (string, error) {
	done := c.track("GetPolicy")
	out, err := c.iamClient.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(arn)})
	done()
	if err != nil {
		return "", fmt.Errorf("failed to get policy: %w", err)
	}

	p := out.Policy
	if p == nil || aws.ToString(p.DefaultVersionId) == "" {
		return "", fmt.Errorf("policy %s has no default version", arn)
	}
	return aws.ToString(p.DefaultVersionId), nil
}

// GetPolicyDocument fetches and decodes one version of a managed policy.
func (c *Client) GetPolicyDocument(ctx context.Context, arn, versionID string) (types.PolicyDocument, error) {
	key := cacheKey(arn, versionID)
	if doc, ok := c.cache.Get(key); ok {
		return doc, nil
	}

	done := c.track("GetPolicyVersion")
	out, err := c.iamClient.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: aws.String(versionID),
	})
	done()
	if err != nil {
		return types.PolicyDocument{}, fmt.Errorf("failed to get policy version: %w", err)
	}

	version := out.PolicyVersion
	if version == nil || version.Document == nil {
		return types.PolicyDocument{}, fmt.Errorf("policy version %s of %s has no document", versionID, arn)
	}

	doc, err := policy.ParseDocument(aws.ToString(version.Document))
	if err != nil {
		return types.PolicyDocument{}, err
	}

	c.cache.Set(key, doc)
	return doc, nil
}

// WalkCustomerManagedPolicies calls fn for every customer managed policy,
// one listing page at a time. It stops at the first error fn returns.
func (c *Client) WalkCustomerManagedPolicies(ctx context.Context, fn func(types.PolicyRef) error) error {
	p := iam.NewListPoliciesPaginator(c.iamClient, &iam.ListPoliciesInput{
		Scope: iamtypes.PolicyScopeTypeLocal,
	})

	for p.HasMorePages() {
		done := c.track("ListPolicies")
		page, err := p.NextPage(ctx)
		done()
		if err != nil {
			return fmt.Errorf("failed to list policies: %w", err)
		}

		for _, pol := range page.Policies {
			ref := types.PolicyRef{
				Arn:              aws.ToString(pol.Arn),
				Name:             aws.ToString(pol.PolicyName),
				DefaultVersionID: aws.ToString(pol.DefaultVersionId),
			}
			if err := fn(ref); err != nil {
				return err
			}
		}
	}

	return nil
}

// track starts timing an API call; the returned func records it.
func (c *Client) track(operation string) func() {
	start := time.Now()
	return func() {
		c.metrics.recordAPILatency(operation, time.Since(start))
	}
}
