package buildtrigger

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/splax/buildor/internal/domain"
)

func TestRenderBuildSpecUsesProjectCommands(t *testing.T) {
	raw, err := RenderBuildSpec(BuildSpecInput{
		Commands:     domain.Commands{PreBuild: []string{"yarn install"}, Build: []string{"yarn build"}},
		OutputFolder: "out",
		ArtifactName: "site-dist-1.zip",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var spec buildSpec
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatalf("rendered spec is not valid yaml: %v", err)
	}
	if spec.Version != "0.2" {
		t.Fatalf("unexpected version %q", spec.Version)
	}
	preBuild := spec.Phases["pre_build"].Commands
	if preBuild[len(preBuild)-1] != "yarn install" {
		t.Fatalf("expected project pre-build commands, got %v", preBuild)
	}
	if !contains(spec.Phases["build"].Commands, "mv 'out' ../dist") {
		t.Fatalf("expected output folder move, got %v", spec.Phases["build"].Commands)
	}
	if spec.Artifacts.Name != "site-dist-1.zip" || spec.Artifacts.Files[0] != "dist/**/*" {
		t.Fatalf("unexpected artifacts %+v", spec.Artifacts)
	}
}

func TestRenderBuildSpecAppliesDefaults(t *testing.T) {
	raw, err := RenderBuildSpec(BuildSpecInput{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var spec buildSpec
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !contains(spec.Phases["pre_build"].Commands, "npm install") {
		t.Fatalf("expected default pre-build command")
	}
	if !contains(spec.Phases["build"].Commands, "npm run build") || !contains(spec.Phases["build"].Commands, "mv 'dist' ../dist") {
		t.Fatalf("expected default build commands, got %v", spec.Phases["build"].Commands)
	}
}

func TestRenderBuildSpecQuotesShellVariables(t *testing.T) {
	raw, err := RenderBuildSpec(BuildSpecInput{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var spec buildSpec
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !contains(spec.Phases["install"].Commands, `git clone "$REPO_URL" "$PROJECT_NAME"`) {
		t.Fatalf("clone should quote its arguments, got %v", spec.Phases["install"].Commands)
	}
	if !contains(spec.Phases["pre_build"].Commands, `cd "$PROJECT_NAME"`) {
		t.Fatalf("checkout directory should be quoted, got %v", spec.Phases["pre_build"].Commands)
	}

	if _, err := RenderBuildSpec(BuildSpecInput{OutputFolder: "it's"}); err == nil {
		t.Fatalf("expected an error for an output folder containing a quote")
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
