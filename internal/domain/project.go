package domain

import "time"

// Default build commands and output folder applied to projects that omit them.
var (
	DefaultPreBuildCommands = []string{"npm install"}
	DefaultBuildCommands    = []string{"npm run build"}
)

// DefaultOutputFolder is where the build is expected to leave the publishable site.
const DefaultOutputFolder = "dist"

// Project describes a static site source that can be deployed.
type Project struct {
	ID            string
	Name          string
	RepositoryURL string
	Commands      Commands
	OutputFolder  string
	// CurrentDeploymentID references the most recent successful deployment, if any.
	CurrentDeploymentID *string
	// CurrentDeploymentCreatedAt orders competing successes so an older build never displaces a newer one.
	CurrentDeploymentCreatedAt *time.Time
	LastPublishedAt            *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// Commands lists the shell commands run by the build before and during compilation.
type Commands struct {
	PreBuild []string `json:"preBuild"`
	Build    []string `json:"build"`
}

// WithDefaults fills empty command lists with the defaults.
func (c Commands) WithDefaults() Commands {
	out := Commands{PreBuild: c.PreBuild, Build: c.Build}
	if len(out.PreBuild) == 0 {
		out.PreBuild = append([]string(nil), DefaultPreBuildCommands...)
	}
	if len(out.Build) == 0 {
		out.Build = append([]string(nil), DefaultBuildCommands...)
	}
	return out
}

// CurrentDeploymentUpdate points a project at a newly succeeded deployment.
type CurrentDeploymentUpdate struct {
	ProjectID           string
	DeploymentID        string
	DeploymentCreatedAt time.Time
	PublishedAt         time.Time
}
