package azdo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/devflow/pkg/fetch"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

// DefaultServiceAccountPattern matches the build and automation identities Azure DevOps
// and common integrations create.
const DefaultServiceAccountPattern = `build service|project collection|microsoft\.teamfoundation|` +
	`microsoft\.visualstudio|azure-pipelines|azuredevops|\[bot\]|-bot\b|_bot\b|\bbot-|` +
	`-svc\b|\bsvc-|-automation\b|dependabot|renovate|snyk|sonarcloud|mergify`

// ServiceAccounts decides whether an identity belongs to a non-human account.
type ServiceAccounts struct {
	pattern *regexp.Regexp
	exclude map[string]bool
}

// NewServiceAccounts compiles a case-insensitive pattern and an exact-match exclusion list.
// Either may be empty.
func NewServiceAccounts(pattern string, exclude []string) (*ServiceAccounts, error) {
	s := &ServiceAccounts{exclude: make(map[string]bool, len(exclude))}
	if pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("service account pattern: %w", err)
		}
		s.pattern = re
	}
	for _, e := range exclude {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			s.exclude[e] = true
		}
	}
	return s, nil
}

// Match reports whether any of the identity values is a service account.
func (s *ServiceAccounts) Match(values ...string) bool {
	if s == nil {
		return false
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if s.exclude[strings.ToLower(strings.TrimSpace(v))] {
			return true
		}
		if s.pattern != nil && s.pattern.MatchString(v) {
			return true
		}
	}
	return false
}

// MatchIdentity checks every identifying field of ref.
func (s *ServiceAccounts) MatchIdentity(ref types.IdentityRef) bool {
	return s.Match(ref.UniqueName, ref.DisplayName, ref.Descriptor, ref.ID)
}

// User is a normalized directory user.
type User struct {
	ID             string `json:"id"`
	Descriptor     string `json:"descriptor,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	UniqueName     string `json:"uniqueName,omitempty"`
	Email          string `json:"email,omitempty"`
	ServiceAccount bool   `json:"isServiceAccount"`
}

// Identity returns the user as an identity reference.
func (u User) Identity() types.IdentityRef {
	unique := u.UniqueName
	if unique == "" {
		unique = u.Email
	}
	return types.IdentityRef{ID: u.ID, DisplayName: u.DisplayName, UniqueName: unique, Descriptor: u.Descriptor}
}

// GraphUsers pages through the organization's user directory. bypass skips the cache.
func (c *Client) GraphUsers(ctx context.Context, bypass bool) ([]User, error) {
	slog.Info("Fetching directory users", "component", "api", "organization", c.cfg.Organization, "bypass", bypass)
	return cacheGet(ctx, c, c.key("graph-users"), bypass, func(ctx context.Context) ([]User, error) {
		raw, err := fetchContinuation[types.GraphUser](ctx, c, "graph users", func(token string) string {
			params := url.Values{"api-version": {c.cfg.APIVersion + "-preview.1"}}
			if token != "" {
				params.Set("continuationToken", token)
			}
			return c.graphURL("graph/users", params)
		})
		if err != nil {
			return nil, err
		}
		users := make([]User, 0, len(raw))
		service := 0
		for _, g := range raw {
			ref := g.Identity()
			u := User{
				ID:          ref.ID,
				Descriptor:  g.Descriptor,
				DisplayName: g.DisplayName,
				UniqueName:  ref.UniqueName,
				Email:       g.MailAddress,
			}
			u.ServiceAccount = c.accounts.Match(u.UniqueName, u.Email, u.DisplayName, u.Descriptor)
			if u.ServiceAccount {
				service++
			}
			users = append(users, u)
		}
		slog.Info("Fetched directory users", "component", "api", "users", len(users), "service_accounts", service)
		return users, nil
	})
}

// AreaPaths fetches the area classification tree down to depth levels below the root.
func (c *Client) AreaPaths(ctx context.Context, depth int) (types.AreaNode, error) {
	depth = min(max(depth, 0), types.MaxAreaDepth-1)
	params := url.Values{"$depth": {strconv.Itoa(depth)}}
	req := fetch.Request{URL: c.projectURL("wit/classificationnodes/Areas", params)}
	return fetchOne[types.AreaNode](ctx, c, c.key("areas", depth), "area paths", req, false)
}
