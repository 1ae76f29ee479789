package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

// Data handed to a Dockerfile template.
//
// CopyPaths source paths are relative to the build context; the
// template turns them into COPY instructions. RequirementsFile is set
// when the image bakes in packages.
type templateData struct {
	PythonVersion    string
	CopyPaths        []CopyPath
	RequirementsFile string
	Args             map[string]string
}

// Builds the environment image.
//
// Configuration files, the third-party index contents, and declared
// copy paths are staged into a throwaway build context, mirrored by
// their absolute host path. The Dockerfile comes from the configured
// template. The first configured tag is applied by the build itself;
// the rest are applied afterwards and the descriptor is re-queried so
// it reflects the full tag set.
func (s *Session) BuildImage(ctx context.Context) (*runtime.Image, string, error) {
	if s.cfg.Image.DockerfileTemplate == "" {
		return nil, "", fmt.Errorf("%w: image dockerfile template must be set", ErrConfiguration)
	}

	pairs := s.configFilePairs()
	thirdParty, err := s.thirdPartyPairs()
	if err != nil {
		return nil, "", err
	}
	pairs = append(pairs, thirdParty...)
	for _, cp := range s.cfg.Image.CopyPaths {
		pairs = append(pairs, CopyPath{Host: s.resolver.ResolveLocal(cp.Host), Container: cp.Container})
	}

	contextDir, err := os.MkdirTemp("", "envman-build-")
	if err != nil {
		return nil, "", fmt.Errorf("%w: staging build context: %v", runtime.ErrBuildSpec, err)
	}
	defer os.RemoveAll(contextDir)

	data := templateData{PythonVersion: s.cfg.Image.PythonVersion}
	for _, cp := range pairs {
		rel, err := stageIntoContext(contextDir, cp.Host)
		if err != nil {
			return nil, "", fmt.Errorf("%w: staging %s: %v", runtime.ErrBuildSpec, cp.Host, err)
		}
		data.CopyPaths = append(data.CopyPaths, CopyPath{Host: rel, Container: cp.Container})
	}

	if len(s.cfg.Image.Packages) > 0 {
		reqs := strings.Join(s.cfg.Image.Packages, "\n") + "\n"
		reqFile := filepath.Join(contextDir, "requirements.txt")
		if err := os.WriteFile(reqFile, []byte(reqs), paths.DefaultFileMode); err != nil {
			return nil, "", fmt.Errorf("%w: writing requirements: %v", runtime.ErrBuildSpec, err)
		}
		data.RequirementsFile = "requirements.txt"
	}

	if err := s.renderDockerfile(contextDir, s.cfg.Image.DockerfileTemplate, data); err != nil {
		return nil, "", err
	}

	return s.buildAndTag(ctx, contextDir, s.cfg.Image.Repo, s.cfg.Image.Tags, nil, false)
}

// Builds the base image carrying the third-party dependencies.
//
// The configured context directory is copied wholesale into a
// throwaway context so the daemon never sees unrelated siblings, and
// the base of the base is pulled fresh.
func (s *Session) BuildBaseImage(ctx context.Context) (*runtime.Image, string, error) {
	base := s.cfg.BaseImage
	if base.DockerfileTemplate == "" {
		return nil, "", fmt.Errorf("%w: base image dockerfile template must be set", ErrConfiguration)
	}
	if base.Repo == "" || len(base.Tags) == 0 {
		return nil, "", fmt.Errorf("%w: base image repo and tags must be set", ErrConfiguration)
	}

	contextDir, err := os.MkdirTemp("", "envman-base-build-")
	if err != nil {
		return nil, "", fmt.Errorf("%w: staging build context: %v", runtime.ErrBuildSpec, err)
	}
	defer os.RemoveAll(contextDir)

	if base.ContextDir != "" {
		src := s.resolver.ResolveLocal(base.ContextDir)
		if err := copyTree(src, contextDir); err != nil {
			return nil, "", fmt.Errorf("%w: copying context %s: %v", runtime.ErrBuildSpec, src, err)
		}
	}

	data := templateData{
		PythonVersion: s.cfg.Image.PythonVersion,
		Args:          base.BuildArgs,
	}
	if err := s.renderDockerfile(contextDir, base.DockerfileTemplate, data); err != nil {
		return nil, "", err
	}

	return s.buildAndTag(ctx, contextDir, base.Repo, base.Tags, base.BuildArgs, true)
}

// Runs the build with the first tag, applies the remaining tags, and
// re-queries the descriptor.
func (s *Session) buildAndTag(ctx context.Context, contextDir, repo string, tags []string, args map[string]string, pull bool) (*runtime.Image, string, error) {
	img, log, err := s.rt.BuildImage(ctx, runtime.BuildOptions{
		ContextDir: contextDir,
		Dockerfile: "Dockerfile",
		Tags:       []string{repo + ":" + tags[0]},
		BuildArgs:  args,
		Pull:       pull,
	})
	if err != nil {
		return nil, log, err
	}

	for _, tag := range tags[1:] {
		if err := s.rt.TagImage(ctx, img.ID, repo, tag); err != nil {
			return nil, log, err
		}
	}
	if len(tags) > 1 {
		img, err = s.rt.FindImage(ctx, repo)
		if err != nil {
			return nil, log, err
		}
	}

	slog.Info("image built", "repo", repo, "tags", tags, "id", img.ID)
	if repo == s.cfg.Image.Repo {
		s.image = img
		s.state = StateImageResolved
	}
	return img, log, nil
}

// Renders a Dockerfile template into the build context.
func (s *Session) renderDockerfile(contextDir, templatePath string, data templateData) error {
	tmplFile := s.resolver.ResolveLocal(templatePath)
	tmpl, err := template.ParseFiles(tmplFile)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", runtime.ErrBuildSpec, tmplFile, err)
	}

	out, err := os.Create(filepath.Join(contextDir, "Dockerfile"))
	if err != nil {
		return fmt.Errorf("%w: %v", runtime.ErrBuildSpec, err)
	}
	defer out.Close()

	if err := tmpl.Execute(out, data); err != nil {
		return fmt.Errorf("%w: rendering %s: %v", runtime.ErrBuildSpec, tmplFile, err)
	}
	return nil
}

// Pushes every configured tag of the environment image, logging in
// first when registry credentials are configured.
func (s *Session) PushImage(ctx context.Context) error {
	if err := s.loginIfConfigured(ctx); err != nil {
		return err
	}
	for _, tag := range s.cfg.Image.Tags {
		if err := s.rt.PushImage(ctx, s.cfg.Image.Repo, tag); err != nil {
			return err
		}
		slog.Info("image pushed", "repo", s.cfg.Image.Repo, "tag", tag)
	}
	return nil
}

// Pulls every configured tag of the environment image and resolves the
// result.
func (s *Session) PullImage(ctx context.Context) (*runtime.Image, error) {
	if err := s.loginIfConfigured(ctx); err != nil {
		return nil, err
	}

	var img *runtime.Image
	for _, tag := range s.cfg.Image.Tags {
		pulled, err := s.rt.PullImage(ctx, s.cfg.Image.Repo, tag)
		if err != nil {
			return nil, err
		}
		img = pulled
		slog.Info("image pulled", "repo", s.cfg.Image.Repo, "tag", tag)
	}

	s.image = img
	s.state = StateImageResolved
	return img, nil
}

// Removes the configured tags of the environment image.
func (s *Session) RemoveImage(ctx context.Context, force bool) error {
	for _, tag := range s.cfg.Image.Tags {
		if err := s.rt.RemoveImage(ctx, s.cfg.Image.Repo, tag, force); err != nil {
			return err
		}
	}
	s.image = nil
	return nil
}

// Logs in to the registry when credentials are configured.
func (s *Session) loginIfConfigured(ctx context.Context) error {
	reg := s.cfg.Registry
	if reg.Username == "" {
		return nil
	}
	return s.rt.Login(ctx, reg.Username, reg.Password)
}

// Stages a host file or directory into the build context, mirrored by
// its absolute path. Returns the context-relative path.
func stageIntoContext(contextDir, hostPath string) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(hostPath), "/")
	dest := filepath.Join(contextDir, filepath.FromSlash(rel))
	if err := copyTree(hostPath, dest); err != nil {
		return "", err
	}
	return rel, nil
}

// Copies a file or directory tree.
func copyTree(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dest, info.Mode().Perm())
	}

	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, paths.DefaultDirMode)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode().Perm())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
