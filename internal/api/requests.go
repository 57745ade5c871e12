package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/splax/buildor/internal/domain"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
)

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name         string           `json:"name"`
	Repository   string           `json:"repository"`
	Commands     *domain.Commands `json:"commands"`
	OutputFolder string           `json:"outputFolder"`
}

// Input converts the request into service input.
func (r CreateProjectRequest) Input() project.CreateInput {
	in := project.CreateInput{Name: r.Name, RepositoryURL: r.Repository, OutputFolder: r.OutputFolder}
	if r.Commands != nil {
		in.Commands = *r.Commands
	}
	return in
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	FirstName string `json:"fname"`
	LastName  string `json:"lname"`
}

// Input converts the request into service input.
func (r CreateUserRequest) Input() user.CreateInput {
	return user.CreateInput{FirstName: r.FirstName, LastName: r.LastName}
}

// CreateDeploymentRequest is the body of the deployment creation routes.
type CreateDeploymentRequest struct {
	ProjectUUID   string `json:"project_uuid"`
	ProjectID     string `json:"projectId"`
	SourceVersion string `json:"sourceVersion"`
}

// Project returns the referenced project, preferring pathProject when set.
func (r CreateDeploymentRequest) Project(pathProject string) string {
	if p := strings.TrimSpace(pathProject); p != "" {
		return p
	}
	if p := strings.TrimSpace(r.ProjectUUID); p != "" {
		return p
	}
	return strings.TrimSpace(r.ProjectID)
}

// DecodeBody unmarshals a JSON request body. An empty body decodes to the zero value
// when allowEmpty is set.
func DecodeBody(body string, allowEmpty bool, out any) error {
	if strings.TrimSpace(body) == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("request body is required")
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}
