// pipeline.go holds the staging steps shared by the publish, plan, and
// verify commands: member selection, manifest rewriting, stage
// preparation, and verification dispatch.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tidegate/stevedore/internal/config"
	"github.com/tidegate/stevedore/internal/manifest"
	"github.com/tidegate/stevedore/internal/model"
	"github.com/tidegate/stevedore/internal/registry"
	"github.com/tidegate/stevedore/internal/sandbox"
	"github.com/tidegate/stevedore/internal/staging"
	"github.com/tidegate/stevedore/internal/workspace"
)

// selectOrdered resolves the members a run operates on: positional
// arguments win, then the config's packages list, then every
// publishable member. The result is in publish order.
func selectOrdered(ws *workspace.Workspace, cfg *config.Config, args []string) ([]*model.Package, error) {
	names := args
	if len(names) == 0 {
		names = cfg.Packages
	}

	selected, err := ws.Select(names)
	if err != nil {
		return nil, err
	}
	return workspace.PublishOrder(selected)
}

// rewriteMember loads a member's raw manifest and rewrites it into its
// publishable form.
func rewriteMember(ws *workspace.Workspace, pkg *model.Package) (*manifest.RewriteResult, error) {
	raw, err := os.ReadFile(pkg.ManifestPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("failed to read manifest for %s", pkg.Name), err)
	}

	spec := manifest.RewriteSpec{
		SiblingVersions: siblingVersions(ws),
		MemberDir:       pkg.RelDir,
	}
	if ws.Manifest.Workspace != nil {
		spec.WorkspacePackage = ws.Manifest.Workspace.Package
		spec.WorkspaceDependencies = ws.Manifest.Workspace.Dependencies
	}

	res, err := manifest.RewriteForPublish(raw, spec)
	if err != nil {
		return nil, err
	}

	// The rewritten manifest must still declare the version the
	// workspace loader resolved. A mismatch means workspace inheritance
	// materialized wrong, and publishing it would pin dependents to a
	// version that does not exist.
	got, err := manifest.ExtractVersion(res.Manifest)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInternalError,
			fmt.Sprintf("rewritten manifest for %s has no readable version", pkg.Name), err)
	}
	if got != pkg.Version {
		return nil, model.NewCLIError(model.ExitInternalError,
			fmt.Sprintf("rewritten manifest for %s declares version %s, expected %s",
				pkg.Name, got, pkg.Version))
	}

	return res, nil
}

// siblingVersions maps every workspace member to its resolved version
// for path-dependency pinning. All members participate, not only the
// selected ones: a selected crate may depend on an unselected sibling
// that is already on the registry.
func siblingVersions(ws *workspace.Workspace) map[string]string {
	versions := make(map[string]string, len(ws.Members))
	for _, member := range ws.Members {
		versions[member.Name] = member.Version
	}
	return versions
}

// stageMember stages a member and installs its rewritten manifest plus
// any documentation assets the rewrite reported.
func stageMember(stager *staging.Stager, pkg *model.Package, res *manifest.RewriteResult) (string, error) {
	stageDir, err := stager.Stage(pkg)
	if err != nil {
		return "", err
	}
	if err := stager.WriteManifest(stageDir, res.Manifest); err != nil {
		return "", err
	}
	for _, asset := range res.Assets {
		if err := stager.CopyAsset(stageDir, pkg.Dir, asset); err != nil {
			return "", err
		}
	}
	return stageDir, nil
}

// verifyStaged runs the configured verification mode on a staged crate.
// VerifyNone is a no-op; callers that must always verify coerce the
// mode before calling.
func verifyStaged(ctx context.Context, cfg *config.Config, pub *registry.Publisher, runID string, pkg *model.Package, stageDir string) error {
	mode, err := model.ParseVerifyMode(cfg.Verify.Mode)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid verify.mode", err)
	}

	switch mode {
	case model.VerifyNone:
		return nil

	case model.VerifyLocal:
		logger.Debug("verifying locally", "package", pkg.Name, "stage", stageDir)
		verifyCtx := ctx
		if cfg.Verify.Timeout() > 0 {
			var cancel context.CancelFunc
			verifyCtx, cancel = context.WithTimeout(ctx, cfg.Verify.Timeout())
			defer cancel()
		}
		_, err := pub.Verify(verifyCtx, stageDir, publishOptions(cfg))
		return err

	case model.VerifySandbox:
		logger.Debug("verifying in sandbox", "package", pkg.Name, "image", cfg.Verify.Image)
		_, err := sandbox.VerifyInContainer(ctx, sandbox.VerifyOptions{
			StageDir: stageDir,
			Image:    cfg.Verify.Image,
			Tool:     cfg.Registry.Tool,
			RunID:    runID,
			Package:  pkg,
			Timeout:  cfg.Verify.Timeout(),
		})
		return err
	}

	return model.NewCLIError(model.ExitInternalError,
		fmt.Sprintf("unhandled verify mode %q", mode))
}

// publishOptions translates the publish section of the config into the
// publisher's option set.
func publishOptions(cfg *config.Config) registry.PublishOptions {
	opts := registry.PublishOptions{NoVerify: cfg.Publish.NoVerify}
	if cfg.Publish.AllowDirty != nil {
		opts.AllowDirty = *cfg.Publish.AllowDirty
	}
	return opts
}

// newPublisher builds the publisher for the configured registry.
func newPublisher(cfg *config.Config) *registry.Publisher {
	return registry.NewPublisher(cfg.Registry.Tool, cfg.Registry.Name, cfg.Registry.ExtraArgs)
}

// formatDuration renders a duration for human output, rounded so the
// tables stay narrow.
func formatDuration(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}
