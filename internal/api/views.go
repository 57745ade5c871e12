package api

import (
	"time"

	"github.com/splax/buildor/internal/domain"
)

// Project is the JSON view of a project.
type Project struct {
	UUID                string          `json:"uuid"`
	Name                string          `json:"name"`
	Repository          string          `json:"repository"`
	Commands            domain.Commands `json:"commands"`
	OutputFolder        string          `json:"outputFolder"`
	CurrentDeploymentID *string         `json:"currentDeploymentId"`
	LastPublished       *time.Time      `json:"lastPublished"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// ProjectFrom renders a domain project.
func ProjectFrom(p domain.Project) Project {
	return Project{
		UUID:                p.ID,
		Name:                p.Name,
		Repository:          p.RepositoryURL,
		Commands:            p.Commands,
		OutputFolder:        p.OutputFolder,
		CurrentDeploymentID: p.CurrentDeploymentID,
		LastPublished:       p.LastPublishedAt,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// User is the JSON view of a user.
type User struct {
	UUID      string    `json:"uuid"`
	FirstName string    `json:"fname"`
	LastName  string    `json:"lname"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserFrom renders a domain user.
func UserFrom(u domain.User) User {
	return User{UUID: u.ID, FirstName: u.FirstName, LastName: u.LastName, CreatedAt: u.CreatedAt}
}

// Users renders a user list.
func Users(users []domain.User) List[User] {
	views := make([]User, 0, len(users))
	for _, u := range users {
		views = append(views, UserFrom(u))
	}
	return NewList(views)
}

// Root is the body served at the API root.
type Root struct {
	Message string `json:"message"`
}

// Welcome is the API root response.
var Welcome = Root{Message: "Buildor API"}

// List wraps collection responses.
type List[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewList builds a list response, never encoding items as null.
func NewList[T any](items []T) List[T] {
	if items == nil {
		items = []T{}
	}
	return List[T]{Items: items, Count: len(items)}
}

// Projects renders a project list.
func Projects(projects []domain.Project) List[Project] {
	views := make([]Project, 0, len(projects))
	for _, p := range projects {
		views = append(views, ProjectFrom(p))
	}
	return NewList(views)
}
