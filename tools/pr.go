package tools

import (
	"context"
	"fmt"

	"github.com/google/go-github/v55/github"

	"ghmcp/registry"
	"ghmcp/sideeffect"
)

func registerPR(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "create_pull_request",
		Description: "Open a pull request against a repository via the GitHub API.",
		SideEffect:  sideeffect.RemoteMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"title":     schemaProp("string", "pull request title"),
				"head":      schemaProp("string", "branch containing the changes"),
				"base":      schemaProp("string", "branch to merge into"),
				"body":      schemaProp("string", "pull request description"),
				"draft":     {Type: "boolean", Description: "open as a draft pull request"},
			},
			Required: []string{"full_name", "title", "head", "base"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			title, err := requireString(args, "title")
			if err != nil {
				return nil, err
			}
			head, err := requireString(args, "head")
			if err != nil {
				return nil, err
			}
			base, err := requireString(args, "base")
			if err != nil {
				return nil, err
			}
			body := optString(args, "body", "")
			draft := optBool(args, "draft", false)

			owner, repo, err := splitFullName(fullName)
			if err != nil {
				return nil, err
			}

			pr, _, err := ghClient(deps).PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
				Title: github.String(title),
				Head:  github.String(head),
				Base:  github.String(base),
				Body:  github.String(body),
				Draft: github.Bool(draft),
			})
			if err != nil {
				return nil, fmt.Errorf("creating pull request: %w", err)
			}
			return map[string]any{
				"number":   pr.GetNumber(),
				"html_url": pr.GetHTMLURL(),
				"state":    pr.GetState(),
			}, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "create_branch",
		Description: "Create a branch directly via the GitHub API (the remote-mutation sibling of workspace_create_branch).",
		SideEffect:  sideeffect.RemoteMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":  schemaProp("string", "owner/repo"),
				"base_ref":   schemaProp("string", "branch or commit-ish to branch from"),
				"new_branch": schemaProp("string", "name of the branch to create"),
			},
			Required: []string{"full_name", "new_branch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			newBranch, err := requireString(args, "new_branch")
			if err != nil {
				return nil, err
			}
			baseRef := optString(args, "base_ref", "main")

			owner, repo, err := splitFullName(fullName)
			if err != nil {
				return nil, err
			}

			client := ghClient(deps)
			baseRefObj, _, err := client.Git.GetRef(ctx, owner, repo, "refs/heads/"+baseRef)
			if err != nil {
				return nil, fmt.Errorf("resolving base ref %q: %w", baseRef, err)
			}

			ref, _, err := client.Git.CreateRef(ctx, owner, repo, &github.Reference{
				Ref:    github.String("refs/heads/" + newBranch),
				Object: &github.GitObject{SHA: baseRefObj.Object.SHA},
			})
			if err != nil {
				return nil, fmt.Errorf("creating branch %q: %w", newBranch, err)
			}
			return map[string]any{"ref": ref.GetRef(), "sha": ref.GetObject().GetSHA()}, nil
		},
	})
}
