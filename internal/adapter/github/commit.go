package github

import (
	"context"
	"crypto/sha1" //nolint:gosec // git object ids are SHA-1
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/Strob0t/DocSync/internal/domain"
	"github.com/Strob0t/DocSync/internal/domain/repo"
)

// blobSHA is the git object id of content, used to recognise a write that
// already landed when its response was lost.
func blobSHA(content string) string {
	h := sha1.New() //nolint:gosec // git object ids are SHA-1
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

type ghContentWrite struct {
	Content *struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA  string `json:"sha"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	} `json:"commit"`
}

func (w *ghContentWrite) result(path string) repo.CommitResult {
	res := repo.CommitResult{SHA: w.Commit.SHA, TreeSHA: w.Commit.Tree.SHA}
	if w.Content != nil {
		res.Blobs = map[string]string{path: w.Content.SHA}
	}
	return res
}

// currentBlob re-reads path on branch. ok is false when the path is absent.
func (c *Client) currentBlob(ctx context.Context, path, branch string) (sha string, ok bool, err error) {
	f, err := c.GetFileContent(ctx, path, branch)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return f.SHA, true, nil
}

// alreadyApplied builds the result for a write that landed on an earlier attempt.
func (c *Client) alreadyApplied(ctx context.Context, path, branch, blob string) (repo.CommitResult, error) {
	b, err := c.GetBranch(ctx, branch)
	if err != nil {
		return repo.CommitResult{}, err
	}
	res := repo.CommitResult{SHA: b.HeadSHA}
	if blob != "" {
		res.Blobs = map[string]string{path: blob}
	}
	return res, nil
}

func (c *Client) UpdateFile(ctx context.Context, path, content, message, baseSHA, branch string) (repo.CommitResult, error) {
	want := blobSHA(content)
	var res repo.CommitResult
	err := c.p.call(ctx, "UpdateFile", func(attempt int) error {
		if attempt > 0 {
			cur, ok, err := c.currentBlob(ctx, path, branch)
			switch {
			case err != nil:
				return err
			case !ok:
				return fmt.Errorf("%w: %s", domain.ErrNotFound, path)
			case cur == want:
				res, err = c.alreadyApplied(ctx, path, branch, want)
				return err
			case cur != baseSHA:
				return &domain.StaleBaseError{Ref: path, Expected: baseSHA, Current: cur}
			}
		}
		in := map[string]string{
			"message": message,
			"content": base64.StdEncoding.EncodeToString([]byte(content)),
			"sha":     baseSHA,
		}
		if branch != "" {
			in["branch"] = branch
		}
		var out ghContentWrite
		if err := c.p.do(ctx, c.token, http.MethodPut, c.url("/contents/%s", escapePath(path)), in, &out); err != nil {
			return err
		}
		res = out.result(path)
		return nil
	})
	return res, err
}

func (c *Client) CreateFile(ctx context.Context, path, content, message, branch string) (repo.CommitResult, error) {
	want := blobSHA(content)
	var res repo.CommitResult
	err := c.p.call(ctx, "CreateFile", func(attempt int) error {
		if attempt > 0 {
			cur, ok, err := c.currentBlob(ctx, path, branch)
			switch {
			case err != nil:
				return err
			case ok && cur == want:
				res, err = c.alreadyApplied(ctx, path, branch, want)
				return err
			case ok:
				return &domain.StaleBaseError{Ref: path, Current: cur}
			}
		}
		in := map[string]string{
			"message": message,
			"content": base64.StdEncoding.EncodeToString([]byte(content)),
		}
		if branch != "" {
			in["branch"] = branch
		}
		var out ghContentWrite
		if err := c.p.do(ctx, c.token, http.MethodPut, c.url("/contents/%s", escapePath(path)), in, &out); err != nil {
			return err
		}
		res = out.result(path)
		return nil
	})
	return res, err
}

func (c *Client) DeleteFile(ctx context.Context, path, sha, message, branch string) (repo.CommitResult, error) {
	var res repo.CommitResult
	err := c.p.call(ctx, "DeleteFile", func(attempt int) error {
		if attempt > 0 {
			cur, ok, err := c.currentBlob(ctx, path, branch)
			switch {
			case err != nil:
				return err
			case !ok:
				res, err = c.alreadyApplied(ctx, path, branch, "")
				return err
			case cur != sha:
				return &domain.StaleBaseError{Ref: path, Expected: sha, Current: cur}
			}
		}
		in := map[string]string{"message": message, "sha": sha}
		if branch != "" {
			in["branch"] = branch
		}
		var out ghContentWrite
		if err := c.p.do(ctx, c.token, http.MethodDelete, c.url("/contents/%s", escapePath(path)), in, &out); err != nil {
			return err
		}
		res = out.result(path)
		return nil
	})
	return res, err
}

type ghTreeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

// MultiFileCommit writes every change in one tree on top of the current
// head and moves the branch with a non-forced ref update. Each attempt reads
// the head afresh. A commit created by an earlier attempt whose ref update
// response was lost is recognised and reported as success.
func (c *Client) MultiFileCommit(ctx context.Context, req repo.CommitRequest) (repo.CommitResult, error) {
	if len(req.Files) == 0 {
		return repo.CommitResult{}, fmt.Errorf("%w: commit has no files", domain.ErrValidation)
	}
	if req.Branch == "" {
		return repo.CommitResult{}, fmt.Errorf("%w: commit branch is required", domain.ErrValidation)
	}
	refURL := c.url("/git/refs/heads/%s", escapePath(req.Branch))

	var (
		res     repo.CommitResult
		created string
	)
	err := c.p.call(ctx, "MultiFileCommit", func(int) error {
		var ref ghRef
		if err := c.p.do(ctx, c.token, http.MethodGet, c.url("/git/ref/heads/%s", escapePath(req.Branch)), nil, &ref); err != nil {
			return err
		}
		head := ref.Object.SHA
		if created != "" && head == created {
			return nil
		}
		if req.ExpectedHead != "" && head != req.ExpectedHead {
			return &domain.StaleBaseError{Ref: "refs/heads/" + req.Branch, Expected: req.ExpectedHead, Current: head}
		}

		var headCommit struct {
			Tree struct {
				SHA string `json:"sha"`
			} `json:"tree"`
		}
		if err := c.p.do(ctx, c.token, http.MethodGet, c.url("/git/commits/%s", head), nil, &headCommit); err != nil {
			return err
		}

		entries := make([]ghTreeEntry, 0, len(req.Files))
		blobs := make(map[string]string, len(req.Files))
		for _, f := range req.Files {
			entry := ghTreeEntry{Path: f.Path, Mode: "100644", Type: "blob"}
			if !f.IsDelete() {
				var blob struct {
					SHA string `json:"sha"`
				}
				in := map[string]string{"content": base64.StdEncoding.EncodeToString([]byte(*f.Content)), "encoding": "base64"}
				if err := c.p.do(ctx, c.token, http.MethodPost, c.url("/git/blobs"), in, &blob); err != nil {
					return err
				}
				entry.SHA = &blob.SHA
				blobs[f.Path] = blob.SHA
			}
			entries = append(entries, entry)
		}

		var tree struct {
			SHA string `json:"sha"`
		}
		treeIn := map[string]any{"base_tree": headCommit.Tree.SHA, "tree": entries}
		if err := c.p.do(ctx, c.token, http.MethodPost, c.url("/git/trees"), treeIn, &tree); err != nil {
			return err
		}

		var commit struct {
			SHA string `json:"sha"`
		}
		commitIn := map[string]any{"message": req.Message, "tree": tree.SHA, "parents": []string{head}}
		if err := c.p.do(ctx, c.token, http.MethodPost, c.url("/git/commits"), commitIn, &commit); err != nil {
			return err
		}
		created = commit.SHA
		res = repo.CommitResult{SHA: commit.SHA, TreeSHA: tree.SHA, Blobs: blobs}

		if err := c.p.do(ctx, c.token, http.MethodPatch, refURL, map[string]any{"sha": commit.SHA, "force": false}, nil); err != nil {
			var stale *domain.StaleBaseError
			if errors.As(err, &stale) {
				return &domain.StaleBaseError{Ref: "refs/heads/" + req.Branch, Expected: head}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return repo.CommitResult{}, err
	}
	return res, nil
}
