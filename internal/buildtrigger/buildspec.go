package buildtrigger

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/splax/buildor/internal/domain"
)

const buildSpecVersion = "0.2"

type buildSpec struct {
	Version   string               `yaml:"version"`
	Phases    map[string]specPhase `yaml:"phases"`
	Artifacts specArtifacts        `yaml:"artifacts"`
}

type specPhase struct {
	Commands []string `yaml:"commands"`
}

type specArtifacts struct {
	Files        []string `yaml:"files"`
	DiscardPaths string   `yaml:"discard-paths"`
	Name         string   `yaml:"name,omitempty"`
}

// BuildSpecInput carries the project settings rendered into a build spec.
type BuildSpecInput struct {
	Commands     domain.Commands
	OutputFolder string
	ArtifactName string
}

// RenderBuildSpec produces the YAML build instructions for a project. The
// repository is cloned into $PROJECT_NAME and the output folder is moved to
// dist so artifacts are collected from a fixed location.
func RenderBuildSpec(in BuildSpecInput) (string, error) {
	commands := in.Commands.WithDefaults()
	output := strings.TrimSpace(in.OutputFolder)
	if output == "" {
		output = domain.DefaultOutputFolder
	}
	if strings.Contains(output, "'") {
		return "", fmt.Errorf("render build spec: output folder %q cannot be quoted", output)
	}

	preBuild := append([]string{"echo Install project dependencies", `cd "$PROJECT_NAME"`}, commands.PreBuild...)
	build := append([]string{"echo Build project"}, commands.Build...)
	build = append(build,
		"echo Move build output to artifacts location",
		fmt.Sprintf("mv '%s' ../dist", output),
		"cd ..",
		"ls -las dist",
	)

	spec := buildSpec{
		Version: buildSpecVersion,
		Phases: map[string]specPhase{
			"install":    {Commands: []string{"echo Download project", "node -v", `git clone "$REPO_URL" "$PROJECT_NAME"`}},
			"pre_build":  {Commands: preBuild},
			"build":      {Commands: build},
			"post_build": {Commands: []string{"echo Build has completed and artifacts were moved"}},
		},
		Artifacts: specArtifacts{
			Files:        []string{"dist/**/*"},
			DiscardPaths: "no",
			Name:         in.ArtifactName,
		},
	}

	out, err := yaml.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("render build spec: %w", err)
	}
	return string(out), nil
}
